package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/9in8/juillet/internal/intake"
	"github.com/9in8/juillet/internal/observability"
)

// AssetsHandler serves files engines wrote to package asset folders.
type AssetsHandler struct {
	logger      *observability.Logger
	storageRoot string
}

// NewAssetsHandler creates an AssetsHandler rooted at storageRoot.
func NewAssetsHandler(logger *observability.Logger, storageRoot string) *AssetsHandler {
	return &AssetsHandler{logger: logger, storageRoot: storageRoot}
}

// Serve handles GET /{packageId}/assets/{type}/{file}. Any traversal
// attempt is answered with 404.
func (h *AssetsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "packageId")
	kind := chi.URLParam(r, "type")
	file := chi.URLParam(r, "file")

	if intake.ValidateID(id) != nil {
		writeError(w, http.StatusNotFound, "Wrong file reference!", "")
		return
	}
	path, err := intake.SafeJoin(filepath.Join(h.storageRoot, id, intake.AssetsDirName), kind+"/"+file)
	if err != nil || kind == "" || file == "" {
		writeError(w, http.StatusNotFound, "Wrong file reference!", "")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "asset not found", "")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "asset not found", "")
		return
	}

	h.logger.WithContext(r.Context()).Debug().Str("path", path).Msg("serving asset")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
