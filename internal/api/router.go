package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pagemule/pagemule/internal/api/handlers"
	"github.com/pagemule/pagemule/internal/api/middleware"
	"github.com/pagemule/pagemule/internal/config"
	"github.com/pagemule/pagemule/internal/engine"
	"github.com/pagemule/pagemule/internal/jobs"
	"github.com/pagemule/pagemule/internal/store"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, eng *engine.Engine, st store.Store, q *jobs.Queue) http.Handler {
	h := handlers.New(eng, st, q, cfg.Version)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.ActorExtractor)
	r.Use(middleware.Telemetry)
	r.Use(middleware.NewAPIKeyAuth().Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Actor", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(st))
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/operations", func(r chi.Router) {
			r.Post("/upsert", h.Upsert)
			r.Post("/link", h.Link)
			r.Post("/bulk", h.Bulk)
		})

		r.Route("/pages", func(r chi.Router) {
			r.Post("/", h.CreatePage)
			r.Route("/{pageID}", func(r chi.Router) {
				r.Get("/", h.GetPage)
				r.Patch("/", h.UpdatePage)
				r.Post("/archive", h.ArchivePage)
				r.Post("/restore", h.RestorePage)
			})
		})

		r.Route("/databases", func(r chi.Router) {
			r.Get("/", h.ListDatabases)
			r.Post("/", h.CreateDatabase)
			r.Route("/{databaseID}", func(r chi.Router) {
				r.Get("/", h.GetDatabase)
				r.Patch("/", h.UpdateDatabase)
				r.Post("/query", h.QueryDatabase)
			})
		})

		r.Route("/blocks/{blockID}", func(r chi.Router) {
			r.Get("/children", h.ListBlocks)
			r.Patch("/children", h.AppendBlocks)
			r.Delete("/", h.DeleteBlock)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.CreateJob)
			r.Get("/{jobID}", h.GetJob)
		})

		r.Post("/search", h.Search)
		r.Get("/audit", h.ListAudit)
	})

	return r
}

func healthHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := st.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "pagemule",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "pagemule",
		})
	}
}
