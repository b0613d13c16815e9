package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/9in8/juillet/internal/app"
	"github.com/9in8/juillet/internal/engine"
	"github.com/9in8/juillet/internal/inspection"
	"github.com/9in8/juillet/internal/intake"
	"github.com/9in8/juillet/internal/observability"
	"github.com/9in8/juillet/internal/storage"
)

// EngineHandler serves the upload, inspect and history routes of one engine.
type EngineHandler struct {
	logger         *observability.Logger
	app            *app.App
	engine         *engine.Engine
	inspectTimeout time.Duration
}

// NewEngineHandler creates a handler for eng.
func NewEngineHandler(logger *observability.Logger, a *app.App, eng *engine.Engine, inspectTimeout time.Duration) *EngineHandler {
	return &EngineHandler{
		logger:         logger.With().Str("engine", eng.Tool()).Logger(),
		app:            a,
		engine:         eng,
		inspectTimeout: inspectTimeout,
	}
}

// UploadResponseDTO is returned for an accepted package.
type UploadResponseDTO struct {
	ID string `json:"id"`
}

// Upload handles POST /api/v1/{tool}/upload. The archive is read from the
// multipart field named after the engine extension, e.g. "idml_file".
func (h *EngineHandler) Upload(w http.ResponseWriter, r *http.Request) {
	field := h.engine.Ext() + "_file"

	maxBytes := h.app.Config.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "No files uploaded!", err.Error())
		return
	}

	var (
		up    intake.Upload
		found bool
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDomainError(w, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body", err.Error())
			return
		}
		if part.FormName() != field || part.FileName() == "" {
			part.Close()
			continue
		}

		up, err = h.app.Intake.Spool(part, part.FileName())
		part.Close()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		found = true
		break
	}
	if !found {
		writeError(w, http.StatusBadRequest, "No files uploaded!", "expected multipart field "+field)
		return
	}

	pkg, err := h.app.Receive(r.Context(), h.engine.Tool(), up)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponseDTO{ID: pkg.ID})
}

// Inspect handles GET /api/v1/{tool}/inspect/{packageId}[/{units}].
// Engine failures are answered with the failure envelope and a 404.
func (h *EngineHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	if units := chi.URLParam(r, "units"); units != "" {
		params["units"] = units
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.inspectTimeout)
	defer cancel()

	res, err := h.app.Resolver.Resolve(ctx, inspection.Request{
		PackageID: chi.URLParam(r, "packageId"),
		Tool:      h.engine.Tool(),
		Params:    params,
		BaseURL:   baseURL(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Outcome.Success {
		status = http.StatusNotFound
	}
	w.Header().Set("X-Juillet-Cache", cacheHeader(res.CacheHit))
	writeJSON(w, status, res.Outcome)
}

func cacheHeader(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// HistoryResponseDTO lists the journaled inspections of a package.
type HistoryResponseDTO struct {
	Package     *storage.Package     `json:"package,omitempty"`
	Inspections []storage.Inspection `json:"inspections"`
}

// History handles GET /api/v1/{tool}/packages/{packageId}/inspections.
func (h *EngineHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.app.Journal == nil {
		writeError(w, http.StatusNotFound, "inspection journal is disabled", "")
		return
	}

	id := chi.URLParam(r, "packageId")
	if err := intake.ValidateID(id); err != nil {
		writeError(w, http.StatusNotFound, "package not found", "")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = n
	}

	resp := HistoryResponseDTO{Inspections: []storage.Inspection{}}
	pkg, err := h.app.Journal.GetPackage(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("failed to read package journal")
		writeError(w, http.StatusInternalServerError, "failed to read journal", "")
		return
	default:
		resp.Package = pkg
	}

	rows, err := h.app.Journal.ListInspections(r.Context(), id, limit)
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("failed to read inspection journal")
		writeError(w, http.StatusInternalServerError, "failed to read journal", "")
		return
	}
	if len(rows) > 0 {
		resp.Inspections = rows
	}
	if resp.Package == nil && len(rows) == 0 {
		writeError(w, http.StatusNotFound, "package not found", "")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
