// PostgreSQL Store implementation.
// For multi-instance deployments that need shared idempotency and
// audit state. Uses a pgx connection pool; schema is created on start.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/pkg/models"
)

// PostgresStore implements Store on a PostgreSQL pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connURL, pings, and migrates.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS pm_idempotency_keys (
			key          TEXT PRIMARY KEY,
			request_hash TEXT NOT NULL,
			snapshot     JSONB NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pm_audit_events (
			id            TEXT PRIMARY KEY,
			request_id    TEXT NOT NULL,
			actor         TEXT NOT NULL,
			operation     TEXT NOT NULL,
			entity_ids    JSONB NOT NULL DEFAULT '[]',
			success       BOOLEAN NOT NULL,
			summary       TEXT NOT NULL,
			warning       TEXT NOT NULL DEFAULT '',
			error_code    TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			timestamp     TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pm_audit_events_ts ON pm_audit_events (timestamp DESC);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Idempotency Store ───────────────────────────────────────

func (s *PostgresStore) PutIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO pm_idempotency_keys
		(key, request_hash, snapshot, recorded_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			snapshot = EXCLUDED.snapshot,
			recorded_at = EXCLUDED.recorded_at,
			expires_at = EXCLUDED.expires_at`,
		rec.Key, rec.RequestHash, rec.Snapshot, rec.RecordedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put idempotency %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) GetIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	var snapshot []byte
	err := s.pool.QueryRow(ctx, `SELECT key, request_hash, snapshot, recorded_at, expires_at
		FROM pm_idempotency_keys WHERE key = $1`, key).
		Scan(&rec.Key, &rec.RequestHash, &snapshot, &rec.RecordedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{Entity: "idempotency record", Key: key}
		}
		return nil, fmt.Errorf("get idempotency %s: %w", key, err)
	}
	rec.Snapshot = json.RawMessage(snapshot)
	return &rec, nil
}

func (s *PostgresStore) DeleteIdempotency(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pm_idempotency_keys WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete idempotency %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "idempotency record", Key: key}
	}
	return nil
}

// ── Audit Store ─────────────────────────────────────────────

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	ids, err := json.Marshal(event.EntityIDs)
	if err != nil {
		return fmt.Errorf("marshal entity ids: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO pm_audit_events
		(id, request_id, actor, operation, entity_ids, success, summary, warning, error_code, error_message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, event.RequestID, event.Actor, event.Op, ids, event.Success,
		event.Summary, event.Warning, event.ErrorCode, event.ErrorMessage, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", event.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditEvent, error) {
	query, args := buildPgAuditQuery(
		`SELECT id, request_id, actor, operation, entity_ids, success, summary, warning, error_code, error_message, timestamp FROM pm_audit_events`,
		filter, true)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var ids []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Actor, &e.Op, &ids, &e.Success,
			&e.Summary, &e.Warning, &e.ErrorCode, &e.ErrorMessage, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal(ids, &e.EntityIDs); err != nil {
			return nil, fmt.Errorf("parse entity ids for %s: %w", e.ID, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountAuditEvents(ctx context.Context, filter models.AuditFilter) (int64, error) {
	query, args := buildPgAuditQuery(`SELECT COUNT(*) FROM pm_audit_events`, filter, false)
	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) PruneAuditEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pm_audit_events WHERE timestamp <= $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// buildPgAuditQuery is the $n-placeholder sibling of buildAuditQuery.
func buildPgAuditQuery(base string, filter models.AuditFilter, paged bool) (string, []interface{}) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Actor != "" {
		conds = append(conds, "actor = "+arg(filter.Actor))
	}
	if filter.Op != "" {
		conds = append(conds, "operation = "+arg(filter.Op))
	}
	if filter.Success != nil {
		conds = append(conds, "success = "+arg(*filter.Success))
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		conds = append(conds, "timestamp <= "+arg(*filter.Until))
	}

	q := base
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if paged {
		q += " ORDER BY timestamp DESC"
		if filter.Limit > 0 {
			q += " LIMIT " + arg(filter.Limit)
		}
		if filter.Offset > 0 {
			q += " OFFSET " + arg(filter.Offset)
		}
	}
	return q, args
}
