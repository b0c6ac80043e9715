// SQLite Store implementation.
// Single-file persistence for deployments that want durability without
// running a database server. Uses the pure-Go modernc.org/sqlite
// driver through database/sql.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/pagemule/pagemule/pkg/models"
)

// Schema DDL. Timestamps are stored as RFC 3339 text, entity ID lists
// and result snapshots as JSON text.
const (
	createIdempotencyKeys = `CREATE TABLE IF NOT EXISTS idempotency_keys (
    key TEXT PRIMARY KEY,
    request_hash TEXT NOT NULL,
    snapshot TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);`

	createAuditEvents = `CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    actor TEXT NOT NULL,
    operation TEXT NOT NULL,
    entity_ids TEXT NOT NULL,
    success INTEGER NOT NULL,
    summary TEXT NOT NULL,
    warning TEXT,
    error_code TEXT,
    error_message TEXT,
    timestamp TEXT NOT NULL
);`

	createAuditTimestampIndex = `CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp
    ON audit_events (timestamp DESC);`
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("sqlite store configured")
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, ddl := range []string{createIdempotencyKeys, createAuditEvents, createAuditTimestampIndex} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ── Idempotency Store ───────────────────────────────────────

func (s *SQLiteStore) PutIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO idempotency_keys
        (key, request_hash, snapshot, recorded_at, expires_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET
            request_hash = excluded.request_hash,
            snapshot = excluded.snapshot,
            recorded_at = excluded.recorded_at,
            expires_at = excluded.expires_at`,
		rec.Key, rec.RequestHash, string(rec.Snapshot),
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		rec.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put idempotency %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SQLiteStore) GetIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, request_hash, snapshot, recorded_at, expires_at
        FROM idempotency_keys WHERE key = ?`, key)

	var rec models.IdempotencyRecord
	var snapshot, recordedAt, expiresAt string
	if err := row.Scan(&rec.Key, &rec.RequestHash, &snapshot, &recordedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Entity: "idempotency record", Key: key}
		}
		return nil, fmt.Errorf("get idempotency %s: %w", key, err)
	}
	rec.Snapshot = json.RawMessage(snapshot)
	var err error
	if rec.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return nil, fmt.Errorf("parse recorded_at for %s: %w", key, err)
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at for %s: %w", key, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) DeleteIdempotency(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete idempotency %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "idempotency record", Key: key}
	}
	return nil
}

// ── Audit Store ─────────────────────────────────────────────

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	ids, err := json.Marshal(event.EntityIDs)
	if err != nil {
		return fmt.Errorf("marshal entity ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_events
        (id, request_id, actor, operation, entity_ids, success, summary, warning, error_code, error_message, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.RequestID, event.Actor, event.Op, string(ids),
		boolToInt(event.Success), event.Summary, event.Warning,
		event.ErrorCode, event.ErrorMessage,
		event.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", event.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditEvent, error) {
	query, args := buildAuditQuery(
		`SELECT id, request_id, actor, operation, entity_ids, success, summary, warning, error_code, error_message, timestamp FROM audit_events`,
		filter, true)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var ids, ts string
		var success int
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Actor, &e.Op, &ids, &success,
			&e.Summary, &e.Warning, &e.ErrorCode, &e.ErrorMessage, &ts); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Success = success != 0
		if err := json.Unmarshal([]byte(ids), &e.EntityIDs); err != nil {
			return nil, fmt.Errorf("parse entity ids for %s: %w", e.ID, err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp for %s: %w", e.ID, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) CountAuditEvents(ctx context.Context, filter models.AuditFilter) (int64, error) {
	query, args := buildAuditQuery(`SELECT COUNT(*) FROM audit_events`, filter, false)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) PruneAuditEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp <= ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// buildAuditQuery appends WHERE/ORDER/LIMIT clauses for a filter.
// Placeholders are `?`, shared by the sqlite driver.
func buildAuditQuery(base string, filter models.AuditFilter, paged bool) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Op != "" {
		conds = append(conds, "operation = ?")
		args = append(args, filter.Op)
	}
	if filter.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	q := base
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if paged {
		q += " ORDER BY timestamp DESC"
		if filter.Limit > 0 {
			q += " LIMIT ?"
			args = append(args, filter.Limit)
		}
		if filter.Offset > 0 {
			if filter.Limit <= 0 {
				q += " LIMIT -1"
			}
			q += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	return q, args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
