package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/plantcam/internal/models"
)

const metadataFile = "snapshots.json"

// ErrBurstCollision is returned when a burst directory already exists on disk
var ErrBurstCollision = errors.New("random collision")

// Storage defines the interface for persisting recorded snapshots
type Storage interface {
	// AddSnapshot queues a single snapshot
	AddSnapshot(ctx context.Context, snapshot models.Snapshot) error

	// Flush ensures all pending snapshots are saved
	Flush(ctx context.Context) error
}

// FileStorage writes each burst into its own directory as JPEG files plus a JSON index
type FileStorage struct {
	mu        sync.Mutex
	pending   []models.Snapshot
	outputDir string
	written   map[string]bool
	logger    *slog.Logger
}

// NewFileStorage creates a new file storage rooted at outputDir
func NewFileStorage(outputDir string, logger *slog.Logger) *FileStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStorage{
		outputDir: outputDir,
		written:   make(map[string]bool),
		logger:    logger,
	}
}

// AddSnapshot buffers a snapshot until the next Flush
func (s *FileStorage) AddSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	if snapshot.Burst == "" {
		return errors.New("snapshot has no burst name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, snapshot)
	return nil
}

// Flush writes all pending snapshots to disk
func (s *FileStorage) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *FileStorage) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	// a failed burst is not retried
	defer func() { s.pending = nil }()

	var order []string
	bursts := make(map[string][]models.Snapshot)
	for _, snap := range s.pending {
		if _, ok := bursts[snap.Burst]; !ok {
			order = append(order, snap.Burst)
		}
		bursts[snap.Burst] = append(bursts[snap.Burst], snap)
	}

	for _, name := range order {
		if err := s.writeBurst(name, bursts[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStorage) writeBurst(name string, snapshots []models.Snapshot) (err error) {
	dir := filepath.Join(s.outputDir, name)

	if !s.written[name] {
		if _, err := os.Stat(dir); err == nil {
			return fmt.Errorf("burst %s: %w", name, ErrBurstCollision)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create burst directory '%s': %w", dir, err)
		}
		s.written[name] = true

		// a burst that could not be written completely leaves nothing behind
		defer func() {
			if err != nil {
				os.RemoveAll(dir)
				delete(s.written, name)
			}
		}()
	}

	for _, snap := range snapshots {
		path := filepath.Join(dir, snap.FileName())
		if err := os.WriteFile(path, snap.JPEG, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	metaPath := filepath.Join(dir, metadataFile)
	var all []models.Snapshot
	if data, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(data, &all); err != nil {
			return fmt.Errorf("failed to unmarshal existing snapshots: %w", err)
		}
	}
	all = append(all, snapshots...)

	file, err := os.Create(metaPath)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(all); err != nil {
		return fmt.Errorf("failed to encode snapshots: %w", err)
	}

	s.logger.Info("stored burst", "burst", name, "snapshots", len(snapshots), "dir", dir)
	return nil
}

// ReadBurst loads the metadata written for a burst
func ReadBurst(outputDir, burst string) ([]models.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, burst, metadataFile))
	if err != nil {
		return nil, err
	}
	var snaps []models.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshots: %w", err)
	}
	return snaps, nil
}

// Multi fans snapshots out to several storages. A storage that has flushed a round
// successfully is skipped on retries until every storage has caught up, so a burst offered
// again after a partial failure lands exactly once in each.
type Multi struct {
	mu     sync.Mutex
	stores []Storage
	stored []bool
	failed []bool
}

// NewMulti returns a fan-out over stores
func NewMulti(stores ...Storage) *Multi {
	return &Multi{
		stores: stores,
		stored: make([]bool, len(stores)),
		failed: make([]bool, len(stores)),
	}
}

func (m *Multi) AddSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i, s := range m.stores {
		if m.stored[i] {
			continue
		}
		if err := s.AddSnapshot(ctx, snapshot); err != nil {
			m.failed[i] = true
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	complete := true
	for i, s := range m.stores {
		if m.stored[i] {
			continue
		}
		err := s.Flush(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		// an AddSnapshot failure was already reported to the caller
		m.stored[i] = err == nil && !m.failed[i]
		if !m.stored[i] {
			complete = false
		}
		m.failed[i] = false
	}
	if complete {
		for i := range m.stored {
			m.stored[i] = false
		}
	}
	return errors.Join(errs...)
}
