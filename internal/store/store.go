// Package store provides the persistence collaborator for the
// operations engine: keyed put/get for idempotency records and an
// append-only audit log with filtered queries. Three implementations
// ship: in-memory with JSON snapshots (default), SQLite, and
// PostgreSQL, all behind the same interface so the engine never knows
// which one it is talking to.
package store

import (
	"context"
	"time"

	"github.com/pagemule/pagemule/pkg/models"
)

// Store is the persistence surface the engine depends on.
type Store interface {
	IdempotencyStore
	AuditStore

	// Ping checks whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the backing schema.
	Migrate(ctx context.Context) error
}

// IdempotencyStore is keyed put/get/delete for operation snapshots.
// Writes are last-write-wins; there is no cross-process locking around
// the read-then-write window (accepted, see the engine docs).
type IdempotencyStore interface {
	PutIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error
	GetIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	DeleteIdempotency(ctx context.Context, key string) error
}

// AuditStore is the append-only operation log. Entries are immutable
// once appended; the only lifecycle beyond append is retention pruning.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditEvent, error)
	CountAuditEvents(ctx context.Context, filter models.AuditFilter) (int64, error)

	// PruneAuditEvents deletes events timestamped at or before cutoff
	// and reports how many were removed. The bound is inclusive so it
	// matches the ListAuditEvents Until filter: everything an Until
	// listing returns is covered by a prune at the same cutoff.
	PruneAuditEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// ErrNotFound is returned when a requested record does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// matchAudit applies an AuditFilter's field predicates (not paging).
func matchAudit(e *models.AuditEvent, f models.AuditFilter) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Op != "" && e.Op != f.Op {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// nowUTC is stubbed in tests that need deterministic expiry.
var nowUTC = func() time.Time { return time.Now().UTC() }
