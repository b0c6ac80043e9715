package retention

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pagemule/pagemule/internal/store"
	"github.com/pagemule/pagemule/pkg/models"
)

func seedEvents(t *testing.T, s store.AuditStore, ages ...time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	for i, age := range ages {
		err := s.AppendAuditEvent(context.Background(), &models.AuditEvent{
			ID:        string(rune('a' + i)),
			Op:        "upsert",
			Success:   true,
			Timestamp: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("AppendAuditEvent() error = %v", err)
		}
	}
}

func TestRunCyclePrunesOldEvents(t *testing.T) {
	ms, err := store.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { ms.Close() })
	seedEvents(t, ms, 40*24*time.Hour, 10*24*time.Hour, time.Hour)

	j := NewJanitor(ms, time.Hour, 30*24*time.Hour)
	stats, err := j.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", stats.Pruned)
	}
	count, _ := ms.CountAuditEvents(context.Background(), models.AuditFilter{})
	if count != 2 {
		t.Errorf("remaining events = %d, want 2", count)
	}
}

func TestRunCycleArchivesBeforePruning(t *testing.T) {
	ms, err := store.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { ms.Close() })
	seedEvents(t, ms, 40*24*time.Hour, 35*24*time.Hour, time.Hour)

	dir := t.TempDir()
	arch, err := NewLocalArchiver(dir)
	if err != nil {
		t.Fatalf("NewLocalArchiver() error = %v", err)
	}
	j := NewJanitor(ms, time.Hour, 30*24*time.Hour)
	j.SetArchiver(arch)

	stats, err := j.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if stats.Archived != 2 || stats.Pruned != 2 {
		t.Errorf("stats = %+v, want 2 archived and 2 pruned", stats)
	}
	if filepath.Dir(stats.Location) != dir {
		t.Errorf("Location = %s, want file under %s", stats.Location, dir)
	}

	f, err := os.Open(stats.Location)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	if lines != 2 {
		t.Errorf("archive lines = %d, want 2", lines)
	}
}

type failingArchiver struct{}

func (failingArchiver) Archive(context.Context, []models.AuditEvent) (string, error) {
	return "", errors.New("archive backend down")
}

func TestArchiveFailureKeepsData(t *testing.T) {
	ms, err := store.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { ms.Close() })
	seedEvents(t, ms, 40*24*time.Hour)

	j := NewJanitor(ms, time.Hour, 30*24*time.Hour)
	j.SetArchiver(failingArchiver{})

	if _, err := j.RunCycle(context.Background()); err == nil {
		t.Fatal("RunCycle() error = nil, want archive failure")
	}
	count, _ := ms.CountAuditEvents(context.Background(), models.AuditFilter{})
	if count != 1 {
		t.Errorf("events = %d, want 1 (nothing deleted after archive failure)", count)
	}
}
