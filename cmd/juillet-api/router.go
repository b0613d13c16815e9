package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/9in8/juillet/cmd/juillet-api/handlers"
	"github.com/9in8/juillet/cmd/juillet-api/middleware"
	"github.com/9in8/juillet/internal/app"
	"github.com/9in8/juillet/internal/observability"
)

// NewRouter creates the API router. Upload, inspect and history routes
// are added for every configured engine.
func NewRouter(logger *observability.Logger, a *app.App) http.Handler {
	cfg := a.Config
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"juillet"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := a.Ready(ctx); err != nil {
			logger.WithContext(r.Context()).Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		for _, eng := range a.Engines.Engines() {
			h := handlers.NewEngineHandler(logger, a, eng, cfg.Server.InspectTimeout)
			r.Route("/"+eng.Tool(), func(r chi.Router) {
				r.Post("/upload", h.Upload)
				r.Get("/inspect/{packageId}", h.Inspect)
				r.Get("/inspect/{packageId}/{units}", h.Inspect)
				r.Get("/packages/{packageId}/inspections", h.History)
			})
			logger.Debug().Str("engine", eng.Tool()).Str("ext", eng.Ext()).Msg("engine routes added")
		}
	})

	assets := handlers.NewAssetsHandler(logger, a.Intake.StorageRoot())
	r.Get("/{packageId}/assets/{type}/{file}", assets.Serve)

	return r
}
