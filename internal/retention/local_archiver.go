package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pagemule/pagemule/pkg/models"
)

// LocalArchiver writes expired audit events to JSON Lines files under a
// directory, one file per cycle.
type LocalArchiver struct {
	dir string
}

func NewLocalArchiver(dir string) (*LocalArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &LocalArchiver{dir: dir}, nil
}

// Archive writes one JSONL file and returns its path. A partially
// written file is removed on error so a retry starts clean.
func (a *LocalArchiver) Archive(_ context.Context, events []models.AuditEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	path := filepath.Join(a.dir, fmt.Sprintf("audit-%s-%s.jsonl", events[len(events)-1].Timestamp.UTC().Format("20060102T150405"), events[0].ID))
	f, err := os.CreateTemp(a.dir, "audit-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	enc := json.NewEncoder(f)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write archive record: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return path, nil
}
