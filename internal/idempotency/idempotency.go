// Package idempotency caches operation results keyed by a
// caller-supplied idempotency key. A hit within the TTL short-circuits
// the operation and replays the stored snapshot; a hit whose request
// hash differs from the stored one is a conflict, which still replays
// the stored snapshot but carries a warning so the caller can tell the
// key was reused for a different request. Expired records are evicted
// lazily on read.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/internal/store"
	"github.com/pagemule/pagemule/pkg/models"
)

// DefaultTTL is how long a stored result stays replayable.
const DefaultTTL = 3600 * time.Second

// WarnKeyConflict is attached to a replayed result when the same key
// arrives with a different request payload.
const WarnKeyConflict = "idempotency key reused with a different request payload; returning the originally stored result"

// Hit is what Check returns on a cache hit.
type Hit struct {
	Snapshot json.RawMessage
	// Warning is non-empty when the stored request hash does not match
	// the incoming one.
	Warning string
}

// Cache wraps an IdempotencyStore with TTL and conflict semantics.
type Cache struct {
	store store.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

func New(s store.IdempotencyStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: s, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// RequestHash produces a stable digest of an operation payload. The
// payload is re-marshalled through a generic value so that key order
// and whitespace in the incoming JSON do not change the hash.
func RequestHash(op string, args json.RawMessage) string {
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		// Not valid JSON; hash the raw bytes as-is.
		sum := sha256.Sum256(append([]byte(op+"\x00"), args...))
		return hex.EncodeToString(sum[:])
	}
	canonical, _ := json.Marshal(v)
	sum := sha256.Sum256(append([]byte(op+"\x00"), canonical...))
	return hex.EncodeToString(sum[:])
}

// Check looks up key. It returns (nil, nil) on a miss or when the
// stored record has expired; expired records are deleted on the way
// out. On a hit it returns the stored snapshot, with a conflict
// warning when requestHash differs from what was stored.
func (c *Cache) Check(ctx context.Context, key, requestHash string) (*Hit, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := c.store.GetIdempotency(ctx, key)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency lookup %s: %w", key, err)
	}
	if rec.Expired(c.now()) {
		if derr := c.store.DeleteIdempotency(ctx, key); derr != nil {
			log.Warn().Err(derr).Str("key", key).Msg("failed to evict expired idempotency record")
		}
		return nil, nil
	}
	hit := &Hit{Snapshot: rec.Snapshot}
	if requestHash != rec.RequestHash {
		log.Warn().Str("key", key).Msg("idempotency key conflict")
		hit.Warning = WarnKeyConflict
	}
	return hit, nil
}

// Store records a successful operation result under key. Failed
// operations are never stored so a retry with the same key re-executes.
func (c *Cache) Store(ctx context.Context, key, requestHash string, snapshot json.RawMessage) error {
	if key == "" {
		return nil
	}
	now := c.now()
	rec := &models.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Snapshot:    snapshot,
		RecordedAt:  now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if err := c.store.PutIdempotency(ctx, rec); err != nil {
		return fmt.Errorf("idempotency store %s: %w", key, err)
	}
	return nil
}
