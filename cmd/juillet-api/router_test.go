package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/9in8/juillet/internal/app"
	"github.com/9in8/juillet/internal/observability"
	"github.com/9in8/juillet/internal/testutil"
)

type server struct {
	app    *app.App
	engine *testutil.Engine
	http   http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	eng := &testutil.Engine{}
	a, err := app.New(context.Background(), testutil.Config(t), nil, app.WithRunner(eng))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return &server{app: a, engine: eng, http: NewRouter(observability.NopLogger(), a)}
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("comment", "first draft"))
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *server) upload(t *testing.T, field, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, field, name, data)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/indesign/upload", body)
	req.Header.Set("Content-Type", contentType)
	return s.do(req)
}

func (s *server) uploadPackage(t *testing.T) string {
	t.Helper()
	rec := s.upload(t, "idml_file", "brochure.zip", testutil.Zip(t, map[string]string{
		"brochure/Brochure.idml": "idml",
		"brochure/Links/cat.jpg": "jpg",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

type envelope struct {
	Success bool            `json:"success"`
	Action  string          `json:"action"`
	Result  json.RawMessage `json:"result"`
	Failure string          `json:"failure"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestHealth(t *testing.T) {
	s := newServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"juillet"}`, rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadInspectAndServeFromCache(t *testing.T) {
	s := newServer(t)
	id := s.uploadPackage(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/indesign/inspect/"+id+"/mm", nil)
	req.Host = "juillet.local:8080"
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Juillet-Cache"))

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "inspect", env.Action)
	assert.Contains(t, string(env.Result), `"http://juillet.local:8080/`+id+`/assets/images/page-1.png"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/indesign/inspect/"+id+"/mm", nil)
	req.Host = "other.example"
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Juillet-Cache"))
	assert.Contains(t, rec.Body.String(), `"https://other.example/`+id+`/assets/images/page-1.png"`)

	assert.Equal(t, 1, s.engine.Calls())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/indesign/packages/"+id+"/inspections", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Package struct {
			ID       string `json:"id"`
			Document string `json:"document"`
		} `json:"package"`
		Inspections []struct {
			CacheHit bool `json:"cache_hit"`
		} `json:"inspections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, id, history.Package.ID)
	assert.Equal(t, "brochure/Brochure.idml", history.Package.Document)
	require.Len(t, history.Inspections, 2)
	assert.True(t, history.Inspections[0].CacheHit)
}

func TestUploadRejections(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name  string
		field string
		file  string
		data  []byte
	}{
		{name: "missing file", field: ""},
		{name: "wrong field", field: "pdf_file", file: "a.zip", data: testutil.Zip(t, map[string]string{"a.idml": "x"})},
		{name: "bad extension", field: "idml_file", file: "a.7z", data: []byte("7z")},
		{name: "corrupt archive", field: "idml_file", file: "a.zip", data: []byte("not a zip")},
		{name: "no document", field: "idml_file", file: "a.zip", data: testutil.Zip(t, map[string]string{"readme.txt": "x"})},
		{name: "two documents", field: "idml_file", file: "a.zip", data: testutil.Zip(t, map[string]string{"a.idml": "x", "b/b.idml": "y"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.upload(t, tt.field, tt.file, tt.data)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}

	stored, err := s.app.Intake.List()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestUploadTooLarge(t *testing.T) {
	eng := &testutil.Engine{}
	cfg := testutil.Config(t)
	cfg.Upload.MaxSizeMB = 1
	a, err := app.New(context.Background(), cfg, nil, app.WithRunner(eng))
	require.NoError(t, err)
	defer a.Close()
	s := &server{app: a, engine: eng, http: NewRouter(observability.NopLogger(), a)}

	rec := s.upload(t, "idml_file", "big.zip", bytes.Repeat([]byte("x"), 2<<20))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestUploadBodyCeilingInsideArchive(t *testing.T) {
	eng := &testutil.Engine{}
	cfg := testutil.Config(t)
	cfg.Upload.MaxSizeMB = 1
	a, err := app.New(context.Background(), cfg, nil, app.WithRunner(eng))
	require.NoError(t, err)
	defer a.Close()
	s := &server{app: a, engine: eng, http: NewRouter(observability.NopLogger(), a)}

	// the skipped field eats most of the body budget, so the cap trips while
	// the archive itself is still under the upload ceiling
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("padding", strings.Repeat("p", 3<<19)))
	fw, err := mw.CreateFormFile("idml_file", "package.zip")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("x"), 900<<10))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/indesign/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := s.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "file exceeds max size")
	assert.Equal(t, 0, eng.Calls())
}

func TestInspectErrors(t *testing.T) {
	s := newServer(t)
	id := s.uploadPackage(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/indesign/inspect/"+id+"/inches", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/indesign/inspect/6e0f1a2b-3c4d-4e5f-8a9b-0c1d2e3f4a5b", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/photoshop/inspect/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 0, s.engine.Calls())
}

func TestInspectEngineFailure(t *testing.T) {
	s := newServer(t)
	id := s.uploadPackage(t)
	s.engine.Fail = true

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/indesign/inspect/"+id, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "engine", env.Failure)
	assert.Contains(t, string(env.Result), "document is damaged")

	entries, err := os.ReadDir(filepath.Join(s.app.Intake.Dir(id), "assets", "cache"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	s.engine.Fail = false
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/indesign/inspect/"+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, s.engine.Calls())
}

func TestAssets(t *testing.T) {
	s := newServer(t)
	id := s.uploadPackage(t)

	image := filepath.Join(s.app.Intake.Dir(id), "assets", "images", "page-1.png")
	require.NoError(t, os.WriteFile(image, []byte("png"), 0o644))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/"+id+"/assets/images/page-1.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	for _, path := range []string{
		"/" + id + "/assets/../brochure",
		"/" + id + "/assets/images/..",
		"/" + id + "/assets/images/missing.png",
		"/not-a-package/assets/images/page-1.png",
	} {
		rec := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestHistoryUnknownPackage(t *testing.T) {
	s := newServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/indesign/packages/6e0f1a2b-3c4d-4e5f-8a9b-0c1d2e3f4a5b/inspections", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/indesign/packages/nope/inspections", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/indesign/upload", nil)
	req.Header.Set("Origin", "http://editor.local")
	rec := s.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://editor.local", rec.Header().Get("Access-Control-Allow-Origin"))
}
