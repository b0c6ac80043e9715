// Package retention prunes old audit events on a schedule. Pruning is
// fail-safe: when an archiver is configured and the archive write
// fails, nothing is deleted that cycle.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/internal/store"
	"github.com/pagemule/pagemule/pkg/models"
)

// DefaultRetention is how long audit events are kept when the
// configuration does not say otherwise.
const DefaultRetention = 30 * 24 * time.Hour

// Archiver receives expired events before they are deleted.
type Archiver interface {
	// Archive persists the events somewhere durable and returns a
	// location string for logging.
	Archive(ctx context.Context, events []models.AuditEvent) (string, error)
}

// CycleStats reports what one retention cycle did.
type CycleStats struct {
	Archived int
	Pruned   int64
	Location string
}

// Janitor periodically prunes audit events older than the retention
// window.
type Janitor struct {
	store    store.AuditStore
	interval time.Duration
	maxAge   time.Duration
	archiver Archiver
	now      func() time.Time
}

// NewJanitor creates a janitor that runs every interval and keeps
// events for maxAge.
func NewJanitor(s store.AuditStore, interval, maxAge time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	return &Janitor{
		store:    s,
		interval: interval,
		maxAge:   maxAge,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetArchiver makes the janitor archive events before pruning them.
func (j *Janitor) SetArchiver(a Archiver) { j.archiver = a }

// Start blocks until ctx is canceled, running one cycle per interval.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.maxAge).
		Msg("audit retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("audit retention janitor stopped")
			return
		case <-ticker.C:
			stats, err := j.RunCycle(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("retention cycle failed")
				continue
			}
			if stats.Pruned > 0 {
				log.Info().
					Int64("pruned", stats.Pruned).
					Int("archived", stats.Archived).
					Str("location", stats.Location).
					Msg("retention cycle complete")
			}
		}
	}
}

// RunCycle archives (when configured) and prunes events older than the
// retention window.
func (j *Janitor) RunCycle(ctx context.Context) (CycleStats, error) {
	cutoff := j.now().Add(-j.maxAge)
	var stats CycleStats

	if j.archiver != nil {
		expired, err := j.store.ListAuditEvents(ctx, models.AuditFilter{Until: &cutoff})
		if err != nil {
			return stats, err
		}
		if len(expired) > 0 {
			location, err := j.archiver.Archive(ctx, expired)
			if err != nil {
				// Keep the data; try again next cycle.
				return stats, err
			}
			stats.Archived = len(expired)
			stats.Location = location
		}
	}

	pruned, err := j.store.PruneAuditEvents(ctx, cutoff)
	if err != nil {
		return stats, err
	}
	stats.Pruned = pruned
	return stats, nil
}
