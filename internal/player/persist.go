package player

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Snapshot is the durable form of the playback session. It references songs
// by id only; payloads and playable handles are never persisted, they are
// regenerated on restore.
type Snapshot struct {
	SongID     string     `json:"songId"`
	PlaylistID string     `json:"playlistId,omitempty"`
	QueueIDs   []string   `json:"queueIds"`
	Index      int        `json:"index"`
	Progress   float64    `json:"progress"` // percent of duration, 0..100
	Duration   float64    `json:"duration"`
	Volume     float64    `json:"volume"`
	Shuffle    bool       `json:"shuffle"`
	Repeat     RepeatMode `json:"repeat"`
	Minimized  bool       `json:"minimized"`
	Timestamp  int64      `json:"timestamp"` // unix milliseconds
}

// Age returns how long ago the snapshot was taken
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.Timestamp))
}

// SnapshotStore persists playback snapshots
type SnapshotStore interface {
	Save(snap *Snapshot) error
	// Load returns the stored snapshot, or nil when none exists.
	Load() (*Snapshot, error)
	Clear() error
}

// FileSnapshotStore keeps the snapshot in a single JSON file, written
// atomically via rename so a crash mid-write never corrupts it.
type FileSnapshotStore struct {
	path   string
	logger *logrus.Logger
}

// NewFileSnapshotStore creates a snapshot store at path
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &FileSnapshotStore{
		path:   path,
		logger: logger,
	}
}

// Save writes the snapshot atomically
func (f *FileSnapshotStore) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot; a missing file means no snapshot
func (f *FileSnapshotStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is treated as absent rather than fatal
		f.logger.WithError(err).WithField("path", f.path).Warn("Discarding unreadable snapshot")
		return nil, nil
	}
	return &snap, nil
}

// Clear removes the stored snapshot
func (f *FileSnapshotStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// Persister debounces snapshot writes so bursts of state changes collapse
// into one disk write. Only the latest requested snapshot survives a burst.
type Persister struct {
	store    SnapshotStore
	debounce time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending *Snapshot
}

// NewPersister creates a debounced persister over store
func NewPersister(store SnapshotStore, debounce time.Duration) *Persister {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Persister{
		store:    store,
		debounce: debounce,
		logger:   logger,
	}
}

// Request schedules snap to be written after the debounce window. A newer
// request within the window replaces the pending snapshot and restarts the
// timer.
func (p *Persister) Request(snap *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = snap
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, p.flushPending)
}

// Flush writes any pending snapshot immediately
func (p *Persister) Flush() {
	p.flushPending()
}

// Clear drops any pending write and removes the stored snapshot
func (p *Persister) Clear() error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.pending = nil
	p.mu.Unlock()

	return p.store.Clear()
}

func (p *Persister) flushPending() {
	p.mu.Lock()
	snap := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if snap == nil {
		return
	}
	if err := p.store.Save(snap); err != nil {
		p.logger.WithError(err).Error("Failed to persist playback snapshot")
	}
}
