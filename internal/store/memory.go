// In-memory Store implementation.
// The default backend for local runs and tests. Supports file-based
// snapshot persistence so idempotency records and the audit log
// survive restarts, plus a background eviction loop for expired
// idempotency records.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pagemule/pagemule/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Idempotency map[string]*models.IdempotencyRecord `json:"idempotency"`
	AuditEvents []*models.AuditEvent                 `json:"audit_events"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	idempotency map[string]*models.IdempotencyRecord // key: idempotency key
	auditEvents []*models.AuditEvent                 // append-only log

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store. If dataDir is
// non-empty, data is persisted to a JSON file in that directory.
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	m := &MemoryStore{
		idempotency: make(map[string]*models.IdempotencyRecord),
		auditEvents: make([]*models.AuditEvent, 0),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
		}
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		m.loadSnapshot()
		go m.saveLoop()
	}

	// Expired idempotency records are also evicted lazily on read; the
	// loop just keeps the map from growing unbounded between reads.
	go m.evictionLoop()

	log.Info().Str("snapshot", m.snapshotPath).Msg("memory store configured")
	return m, nil
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// evictionLoop periodically removes expired idempotency records.
func (m *MemoryStore) evictionLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryStore) evictExpired() {
	now := nowUTC()

	m.mu.Lock()
	var evicted int
	for key, rec := range m.idempotency {
		if rec.Expired(now) {
			delete(m.idempotency, key)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Msg("evicted expired idempotency records")
		m.requestSave()
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Idempotency: m.idempotency,
		AuditEvents: m.auditEvents,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("no snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Idempotency != nil {
		m.idempotency = snap.Idempotency
	}
	if snap.AuditEvents != nil {
		m.auditEvents = snap.AuditEvents
	}

	log.Info().
		Int("idempotency", len(m.idempotency)).
		Int("audit_events", len(m.auditEvents)).
		Str("path", m.snapshotPath).
		Msg("snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
		log.Info().Msg("memory store closed")
	})
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Idempotency Store ───────────────────────────────────────

func (m *MemoryStore) PutIdempotency(_ context.Context, rec *models.IdempotencyRecord) error {
	m.mu.Lock()
	cp := *rec
	m.idempotency[rec.Key] = &cp // last write wins
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetIdempotency(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	m.mu.RLock()
	rec, ok := m.idempotency[key]
	m.mu.RUnlock()
	if !ok {
		return nil, &ErrNotFound{Entity: "idempotency record", Key: key}
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) DeleteIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.idempotency[key]; !ok {
		return &ErrNotFound{Entity: "idempotency record", Key: key}
	}
	delete(m.idempotency, key)
	return nil
}

// ── Audit Store ─────────────────────────────────────────────

func (m *MemoryStore) AppendAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	cp := *event
	m.auditEvents = append(m.auditEvents, &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, filter models.AuditFilter) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AuditEvent
	offset := filter.Offset
	for i := len(m.auditEvents) - 1; i >= 0; i-- { // newest first
		e := m.auditEvents[i]
		if !matchAudit(e, filter) {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		result = append(result, *e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) PruneAuditEvents(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	kept := m.auditEvents[:0]
	var pruned int64
	for _, e := range m.auditEvents {
		if !e.Timestamp.After(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.auditEvents = kept
	m.mu.Unlock()
	if pruned > 0 {
		m.requestSave()
	}
	return pruned, nil
}

func (m *MemoryStore) CountAuditEvents(_ context.Context, filter models.AuditFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, e := range m.auditEvents {
		if matchAudit(e, filter) {
			count++
		}
	}
	return count, nil
}
