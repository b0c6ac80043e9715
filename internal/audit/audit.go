// Package audit records every engine operation to an append-only log.
// Recording is best-effort: a store failure is logged and swallowed so
// it never turns a succeeded operation into an error for the caller.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/internal/store"
	"github.com/pagemule/pagemule/pkg/models"
)

// Recorder appends audit events for engine operations.
type Recorder struct {
	store store.AuditStore
	now   func() time.Time
}

func NewRecorder(s store.AuditStore) *Recorder {
	return &Recorder{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Entry carries the caller-supplied fields of an audit event. ID and
// Timestamp are filled in by Record.
type Entry struct {
	RequestID string
	Actor     string
	Op        string
	EntityIDs []string
	Success   bool
	Summary   string
	Warning   string
	ErrorCode string
	ErrorMsg  string
}

// Record appends one event. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	event := &models.AuditEvent{
		ID:           uuid.NewString(),
		RequestID:    e.RequestID,
		Actor:        e.Actor,
		Op:           e.Op,
		EntityIDs:    e.EntityIDs,
		Success:      e.Success,
		Summary:      e.Summary,
		Warning:      e.Warning,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMsg,
		Timestamp:    r.now(),
	}
	if err := r.store.AppendAuditEvent(ctx, event); err != nil {
		log.Error().Err(err).
			Str("op", e.Op).
			Str("request_id", e.RequestID).
			Msg("failed to append audit event")
	}
}

// List returns events matching the filter, newest first.
func (r *Recorder) List(ctx context.Context, f models.AuditFilter) ([]models.AuditEvent, error) {
	return r.store.ListAuditEvents(ctx, f)
}

// Count returns how many events match the filter's field predicates.
func (r *Recorder) Count(ctx context.Context, f models.AuditFilter) (int64, error) {
	return r.store.CountAuditEvents(ctx, f)
}
