// Package testutil holds fixtures shared by juillet's package tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/9in8/juillet/internal/bridge"
	"github.com/9in8/juillet/internal/config"
)

// Config returns a configuration rooted in a temporary directory, with the
// script launched directly and a SQLite journal.
func Config(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.Root = filepath.Join(dir, "storage")
	cfg.Upload.TempDir = dir
	cfg.Engine.Platform = "exec"
	cfg.Engine.Timeout = 10 * time.Second
	cfg.Engines[0].Script = filepath.Join(dir, "indesign.jsx")
	cfg.Cache.PollInterval = 10 * time.Millisecond
	cfg.Database.SQLite.Path = filepath.Join(dir, "juillet.db")
	cfg.Server.InspectTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

// Zip builds an archive from name to content pairs. Names ending in "/"
// are directories.
func Zip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if content != "" {
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Engine is a bridge.Runner standing in for the engine script launched
// directly. It answers inspect with a small report whose preview lives in
// the assets folder it was given.
type Engine struct {
	mu    sync.Mutex
	calls int
	// Fail makes the engine report a structured exception.
	Fail bool
}

// Run implements bridge.Runner.
func (e *Engine) Run(ctx context.Context, name string, args ...string) (bridge.Execution, error) {
	e.mu.Lock()
	e.calls++
	fail := e.Fail
	e.mu.Unlock()

	if fail {
		return bridge.Execution{Stdout: []byte(`{"exception": "Error", "error": "document is damaged", "line": 12}`)}, nil
	}
	// args: action, document, units, assets
	units, assets := args[2], args[3]
	return bridge.Execution{Stdout: []byte(Report(units, filepath.Join(assets, "images", "page-1.png")))}, nil
}

// Calls returns how many times the engine ran.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Report returns an inspection report with one page and one text frame.
func Report(units, preview string) string {
	p, _ := json.Marshal(preview)
	return `{"fonts": [{"name": "Minion Pro Regular"}], "pages": [{"page": 1, "units": "` + units + `",
		"geometry": {"x": 0, "y": 0, "width": 210, "height": 297},
		"preview": ` + string(p) + `,
		"content": [{"uid": "u1", "type": "text_frame", "geometry": {"x": 10, "y": 10, "width": 100, "height": 20},
			"content": [{"type": "text", "text": "Bonjour", "fontName": "Minion Pro", "fontSize": 12}]}]}]}`
}
