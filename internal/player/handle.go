package player

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"serenade/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrHandleUnavailable signals that a playable handle could not be produced
// for a song, usually because the payload could not be written out.
var ErrHandleUnavailable = errors.New("playable handle unavailable")

// Handle is a transient playable form of a stored song: the payload bytes
// staged as a file the playback facility can open. Handles are regenerable
// at any time from the song's stored payload and carry no durable state.
type Handle struct {
	SongID   string
	Path     string
	MIMEType string
}

// HandleManager stages song payloads as temp files and cleans them up when
// they are released. One handle per song at a time; acquiring a song that
// already has a live handle returns the existing one.
type HandleManager struct {
	dir    string
	owned  bool // whether we created dir and should remove it on Close
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]*Handle
}

// NewHandleManager creates a manager staging handles under dir. An empty dir
// means a fresh per-process temp directory.
func NewHandleManager(dir string) (*HandleManager, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	owned := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "serenade-handles-")
		if err != nil {
			return nil, fmt.Errorf("failed to create handle directory: %w", err)
		}
		dir = tmp
		owned = true
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create handle directory: %w", err)
		}
	}

	return &HandleManager{
		dir:    dir,
		owned:  owned,
		logger: logger,
		active: make(map[string]*Handle),
	}, nil
}

// Acquire stages song's payload and returns a playable handle for it.
func (m *HandleManager) Acquire(song *models.Song) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.active[song.ID]; ok {
		return h, nil
	}

	ext := extensionFor(song.FileType)
	file, err := os.CreateTemp(m.dir, "handle-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHandleUnavailable, err)
	}

	if _, err := file.Write(song.FileData); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("%w: %s", ErrHandleUnavailable, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return nil, fmt.Errorf("%w: %s", ErrHandleUnavailable, err)
	}

	h := &Handle{
		SongID:   song.ID,
		Path:     file.Name(),
		MIMEType: song.FileType,
	}
	m.active[song.ID] = h

	m.logger.WithFields(logrus.Fields{
		"song_id": song.ID,
		"path":    h.Path,
	}).Debug("Acquired playable handle")

	return h, nil
}

// Release removes the staged file for a handle. Releasing nil or an already
// released handle is a no-op.
func (m *HandleManager) Release(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[h.SongID]; !ok || current != h {
		return
	}
	delete(m.active, h.SongID)

	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		m.logger.WithError(err).WithField("path", h.Path).Warn("Failed to remove handle file")
	}
}

// Close releases all live handles and removes the staging directory when
// this manager created it.
func (m *HandleManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.active {
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			m.logger.WithError(err).WithField("path", h.Path).Warn("Failed to remove handle file")
		}
	}
	m.active = make(map[string]*Handle)

	if m.owned {
		if err := os.RemoveAll(m.dir); err != nil {
			m.logger.WithError(err).WithField("dir", m.dir).Warn("Failed to remove handle directory")
		}
	}
}

// extensionFor picks a staging file extension from a MIME type so decoders
// that sniff by extension keep working.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	default:
		return filepath.Ext(mimeType) // almost always empty
	}
}
