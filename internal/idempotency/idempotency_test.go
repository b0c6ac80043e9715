package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pagemule/pagemule/internal/store"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *store.MemoryStore) {
	t.Helper()
	ms, err := store.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { ms.Close() })
	return New(ms, ttl), ms
}

func TestCheckMiss(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)

	hit, err := c.Check(context.Background(), "nope", "h1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if hit != nil {
		t.Fatalf("Check() = %+v, want miss", hit)
	}
}

func TestStoreThenCheckReplays(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	snap := json.RawMessage(`{"id":"p1"}`)
	if err := c.Store(ctx, "k1", "h1", snap); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	hit, err := c.Check(ctx, "k1", "h1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if hit == nil {
		t.Fatal("Check() = miss, want hit")
	}
	if string(hit.Snapshot) != `{"id":"p1"}` {
		t.Errorf("snapshot = %s", hit.Snapshot)
	}
	if hit.Warning != "" {
		t.Errorf("warning = %q, want none", hit.Warning)
	}
}

func TestCheckConflictWarnsButReplays(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Store(ctx, "k1", "h1", json.RawMessage(`{"id":"p1"}`)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	hit, err := c.Check(ctx, "k1", "different-hash")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if hit == nil {
		t.Fatal("Check() = miss, want hit")
	}
	if string(hit.Snapshot) != `{"id":"p1"}` {
		t.Errorf("snapshot = %s, want the originally stored result", hit.Snapshot)
	}
	if hit.Warning != WarnKeyConflict {
		t.Errorf("warning = %q, want conflict warning", hit.Warning)
	}
}

func TestCheckEvictsExpired(t *testing.T) {
	c, ms := newTestCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Store(ctx, "k1", "h1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	c.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	hit, err := c.Check(ctx, "k1", "h1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if hit != nil {
		t.Fatal("Check() = hit, want expired record treated as a miss")
	}
	if _, err := ms.GetIdempotency(ctx, "k1"); err == nil {
		t.Error("expired record still present after Check")
	}
}

func TestEmptyKeyIsNoop(t *testing.T) {
	c, ms := newTestCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Store(ctx, "", "h1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	hit, err := c.Check(ctx, "", "h1")
	if err != nil || hit != nil {
		t.Fatalf("Check() = %+v, %v; want miss, nil", hit, err)
	}
	if _, err := ms.GetIdempotency(ctx, ""); err == nil {
		t.Error("empty key was stored")
	}
}

func TestRequestHashStableUnderKeyOrder(t *testing.T) {
	a := RequestHash("upsert", json.RawMessage(`{"a":1,"b":2}`))
	b := RequestHash("upsert", json.RawMessage(`{"b":2,"a":1}`))
	if a != b {
		t.Errorf("hash differs for reordered keys: %s vs %s", a, b)
	}
	if a == RequestHash("link", json.RawMessage(`{"a":1,"b":2}`)) {
		t.Error("hash should depend on the operation name")
	}
	if a == RequestHash("upsert", json.RawMessage(`{"a":1,"b":3}`)) {
		t.Error("hash should depend on the payload")
	}
}
