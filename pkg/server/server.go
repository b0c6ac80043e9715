// Package server provides the public entry point for initializing the
// pagemule server: configuration, telemetry, persistence, the workspace
// client, the operations engine, and the HTTP router in one call.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/internal/api"
	"github.com/pagemule/pagemule/internal/audit"
	"github.com/pagemule/pagemule/internal/config"
	"github.com/pagemule/pagemule/internal/engine"
	"github.com/pagemule/pagemule/internal/idempotency"
	"github.com/pagemule/pagemule/internal/jobs"
	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/retention"
	"github.com/pagemule/pagemule/internal/store"
	"github.com/pagemule/pagemule/internal/telemetry"
	"github.com/pagemule/pagemule/pkg/models"
)

// Server holds the initialized pagemule service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the persistence backend selected by configuration.
	Store store.Store

	// Engine executes workspace operations.
	Engine *engine.Engine

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry and close the store.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg.Workspace.Token == "" {
		return nil, fmt.Errorf("PAGEMULE_WORKSPACE_TOKEN is required")
	}

	telemetryShutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("store initialized")

	clientOpts := []notion.Option{
		notion.WithRetryPolicy(notion.RetryPolicy{
			MaxRetries:    cfg.Workspace.MaxRetries,
			BackoffFactor: cfg.Workspace.BackoffFactor,
		}),
	}
	if cfg.Workspace.BaseURL != "" {
		clientOpts = append(clientOpts, notion.WithBaseURL(cfg.Workspace.BaseURL))
	}
	client := notion.New(cfg.Workspace.Token, clientOpts...)

	eng := engine.New(
		client,
		idempotency.New(st, cfg.Idempotency.TTL),
		audit.NewRecorder(st),
	)
	log.Info().Msg("operations engine initialized")

	queue := jobs.NewQueue()
	queue.RegisterHandler("bulk", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var batch models.BulkBatch
		if err := json.Unmarshal(args, &batch); err != nil {
			return nil, fmt.Errorf("bulk job args: %w", err)
		}
		res, err := eng.ExecuteBulk(ctx, batch)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	if cfg.Retention.Days > 0 {
		janitor := retention.NewJanitor(st, cfg.Retention.Interval,
			time.Duration(cfg.Retention.Days)*24*time.Hour)
		if cfg.Retention.ArchiveDir != "" {
			archiver, err := retention.NewLocalArchiver(cfg.Retention.ArchiveDir)
			if err != nil {
				stopJanitor()
				return nil, fmt.Errorf("init audit archiver: %w", err)
			}
			janitor.SetArchiver(archiver)
		}
		go janitor.Start(janitorCtx)
		log.Info().Int("days", cfg.Retention.Days).Msg("audit retention janitor started")
	}

	return &Server{
		Handler: api.NewRouter(cfg, eng, st, queue),
		Store:   st,
		Engine:  eng,
		Config:  cfg,
		Port:    cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			stopJanitor()
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("store close failed")
			}
			return telemetryShutdown(ctx)
		},
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return store.NewMemoryStore(cfg.DataDir)
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("PAGEMULE_POSTGRES_URL is required for the postgres backend")
		}
		return store.NewPostgresStore(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
