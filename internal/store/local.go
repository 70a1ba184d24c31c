package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ctproto/ctproto-go/internal/logger"
)

// LocalStore writes each upload to baseDir/<fileId>, the way the teacher's
// Recorder writes one FLV file per published stream. Unlike Recorder it
// does not hold a long-lived handle per job — each Save is a single
// create-write-close, since the reassembler hands off a complete in-memory
// file rather than a live byte stream.
type LocalStore struct {
	baseDir string
	log     *slog.Logger

	mu       sync.Mutex
	disabled bool
}

// NewLocalStore creates baseDir if needed and returns a store rooted there.
func NewLocalStore(baseDir string, log *slog.Logger) (*LocalStore, error) {
	if log == nil {
		log = logger.Logger()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("store.local: create base dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir, log: log}, nil
}

// Save writes data to baseDir/fileID, replacing any prior file of the same
// id. On a write error the store is marked disabled (degraded, not
// crashed) and subsequent Save calls fail fast.
func (s *LocalStore) Save(ctx context.Context, fileID string, meta Metadata, data []byte) (Location, error) {
	s.mu.Lock()
	disabled := s.disabled
	s.mu.Unlock()
	if disabled {
		return Location{}, fmt.Errorf("store.local: disabled after a prior write failure")
	}

	path := filepath.Join(s.baseDir, fileID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.mu.Lock()
		s.disabled = true
		s.mu.Unlock()
		s.log.Error("local store write failed", "file_id", fileID, "error", err)
		return Location{}, fmt.Errorf("store.local: write %s: %w", fileID, err)
	}

	s.log.Info("stored upload", "file_id", fileID, "type", meta.Type, "path", path, "bytes", len(data))
	return Location{Path: path}, nil
}
