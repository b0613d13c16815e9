package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "juillet-test"})

	logger.WithPackage("pkg-1").Info().Str("engine", "indesign").Msg("inspected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "juillet-test", entry["service"])
	assert.Equal(t, "pkg-1", entry["package_id"])
	assert.Equal(t, "indesign", entry["engine"])
	assert.Equal(t, "inspected", entry["message"])
}

func TestNewLogger_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("hidden too")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	var ctx context.Context
	handler := chimiddleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	logger.WithContext(ctx).Info().Msg("with request")
	assert.Contains(t, buf.String(), `"request_id"`)

	buf.Reset()
	logger.WithContext(context.Background()).Info().Msg("without request")
	assert.NotContains(t, buf.String(), `"request_id"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("nonsense").String())
	assert.Equal(t, "trace", parseLevel("trace").String())
}
