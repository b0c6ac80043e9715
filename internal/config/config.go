package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the pagemule server.
type Config struct {
	Port        int
	Version     string
	Workspace   WorkspaceConfig
	Store       StoreConfig
	Idempotency IdempotencyConfig
	Retention   RetentionConfig
	Telemetry   TelemetryConfig
}

// WorkspaceConfig configures the remote workspace API client.
type WorkspaceConfig struct {
	Token         string
	BaseURL       string
	MaxRetries    int
	BackoffFactor float64
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of memory, sqlite, postgres.
	Backend     string
	DataDir     string
	SQLitePath  string
	PostgresURL string
}

type IdempotencyConfig struct {
	TTL time.Duration
}

// RetentionConfig governs audit log pruning. Days <= 0 disables it.
type RetentionConfig struct {
	Days       int
	Interval   time.Duration
	ArchiveDir string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("PAGEMULE_PORT", 8080),
		Version: envStr("PAGEMULE_VERSION", "0.1.0"),
		Workspace: WorkspaceConfig{
			Token:         envStr("PAGEMULE_WORKSPACE_TOKEN", ""),
			BaseURL:       envStr("PAGEMULE_WORKSPACE_BASE_URL", ""),
			MaxRetries:    envInt("PAGEMULE_WORKSPACE_MAX_RETRIES", 3),
			BackoffFactor: envFloat("PAGEMULE_WORKSPACE_BACKOFF_FACTOR", 2.0),
		},
		Store: StoreConfig{
			Backend:     envStr("PAGEMULE_STORE_BACKEND", "memory"),
			DataDir:     envStr("PAGEMULE_DATA_DIR", "./data"),
			SQLitePath:  envStr("PAGEMULE_SQLITE_PATH", "./data/pagemule.db"),
			PostgresURL: envStr("PAGEMULE_POSTGRES_URL", ""),
		},
		Idempotency: IdempotencyConfig{
			TTL: time.Duration(envInt("PAGEMULE_IDEMPOTENCY_TTL_SECONDS", 3600)) * time.Second,
		},
		Retention: RetentionConfig{
			Days:       envInt("PAGEMULE_AUDIT_RETENTION_DAYS", 0),
			Interval:   time.Duration(envInt("PAGEMULE_AUDIT_RETENTION_INTERVAL_HOURS", 6)) * time.Hour,
			ArchiveDir: envStr("PAGEMULE_AUDIT_ARCHIVE_DIR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "pagemule"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
