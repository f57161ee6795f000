package player

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"serenade/internal/audio"
	"serenade/internal/config"
	"serenade/internal/store"
	"serenade/pkg/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// progressInterval is how often the session samples the output position
// while playing. Position updates notify observers but never hit disk.
const progressInterval = 500 * time.Millisecond

// Session is the single playback session: at most one song is loaded at a
// time, with a queue giving it next/previous context. All mutation goes
// through its methods; observers subscribe for state snapshots.
type Session struct {
	store     *store.Store
	handles   *HandleManager
	output    audio.Output
	snapshots SnapshotStore
	persister *Persister
	logger    *logrus.Logger

	readyTimeout  time.Duration
	restoreMaxAge time.Duration

	// rnd picks shuffle positions; replaced in tests for determinism
	rnd func(int) int

	mu           sync.Mutex
	state        State
	handle       *Handle
	outputLoaded bool
	loadGen      uint64
	listeners    map[string]chan State

	// loadMu serializes the blocking handle/output work so concurrent
	// loads cannot interleave output operations.
	loadMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSession creates the playback session and starts its event loop.
func NewSession(st *store.Store, handles *HandleManager, output audio.Output, snapshots SnapshotStore, cfg *config.Config) *Session {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := &Session{
		store:         st,
		handles:       handles,
		output:        output,
		snapshots:     snapshots,
		persister:     NewPersister(snapshots, time.Duration(cfg.Playback.PersistDebounceMS)*time.Millisecond),
		logger:        logger,
		readyTimeout:  time.Duration(cfg.Playback.ReadyTimeoutSeconds) * time.Second,
		restoreMaxAge: time.Duration(cfg.Playback.RestoreMaxAgeHours) * time.Hour,
		rnd:           rand.Intn,
		state:         State{Volume: 1, Repeat: RepeatNone},
		listeners:     make(map[string]chan State),
		done:          make(chan struct{}),
	}

	s.wg.Add(1)
	go s.watch()

	return s
}

// State returns a copy of the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(&s.state)
}

// Subscribe registers an observer. The returned channel receives state
// snapshots after every change; slow observers miss intermediate states
// rather than blocking the session.
func (s *Session) Subscribe() (string, <-chan State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan State, 8)
	s.listeners[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel
func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.listeners[id]; ok {
		delete(s.listeners, id)
		close(ch)
	}
}

// Load starts playback of a song. With a playlist id the playlist's songs
// become the queue; otherwise the whole library does. If the song turns out
// not to be in the playlist anymore the queue falls back to the library.
// Concurrent loads race safely: the last call wins, earlier ones are
// discarded. On failure the session stays visible but paused on the song.
func (s *Session) Load(ctx context.Context, songID, playlistID string) error {
	song, err := s.store.GetSong(songID)
	if err != nil {
		return err
	}
	if song == nil {
		return fmt.Errorf("song %s: %w", songID, store.ErrNotFound)
	}

	queue, index, resolvedPlaylist, err := s.resolveQueue(song, playlistID)
	if err != nil {
		return err
	}

	return s.beginLoad(ctx, song, queue, index, resolvedPlaylist)
}

// resolveQueue builds the play queue around song
func (s *Session) resolveQueue(song *models.Song, playlistID string) ([]*models.Song, int, string, error) {
	if playlistID != "" {
		songs, err := s.store.GetPlaylistSongs(playlistID)
		if err != nil {
			return nil, 0, "", fmt.Errorf("failed to resolve playlist queue: %w", err)
		}
		if idx, ok := indexOf(songs, song.ID); ok {
			return songs, idx, playlistID, nil
		}
		// Song no longer in the playlist; fall back to the library queue
		s.logger.WithFields(logrus.Fields{
			"song_id":     song.ID,
			"playlist_id": playlistID,
		}).Warn("Song not in playlist, using library queue")
	}

	songs, err := s.store.GetAllSongs()
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to resolve library queue: %w", err)
	}
	if idx, ok := indexOf(songs, song.ID); ok {
		return songs, idx, "", nil
	}
	return []*models.Song{song}, 0, "", nil
}

func indexOf(songs []*models.Song, id string) (int, bool) {
	for i, song := range songs {
		if song.ID == id {
			return i, true
		}
	}
	return 0, false
}

// beginLoad publishes the provisional visible-but-paused state, then does
// the blocking handle and output work and commits if still current.
func (s *Session) beginLoad(ctx context.Context, song *models.Song, queue []*models.Song, index int, playlistID string) error {
	s.mu.Lock()
	s.loadGen++
	gen := s.loadGen
	oldHandle := s.handle
	s.handle = nil
	s.outputLoaded = false
	s.state.Visible = true
	s.state.Minimized = true
	s.state.CurrentSong = song
	s.state.PlaylistID = playlistID
	s.state.Queue = queue
	s.state.Index = index
	s.state.Playing = false
	s.state.Progress = 0
	s.state.Duration = song.Duration
	s.notifyLocked()
	s.mu.Unlock()

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.handles.Release(oldHandle)
	if !s.isCurrentGen(gen) {
		return nil
	}
	s.output.Unload()

	handle, err := s.handles.Acquire(song)
	if err != nil {
		s.persistCurrent()
		return err
	}

	lctx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	if err := s.output.Load(lctx, handle.Path, handle.MIMEType); err != nil {
		s.handles.Release(handle)
		s.persistCurrent()
		return fmt.Errorf("failed to ready source: %w", err)
	}

	return s.commitLoad(gen, handle, 0, true)
}

// commitLoad installs a readied handle, unless a newer load superseded it.
func (s *Session) commitLoad(gen uint64, handle *Handle, startAt float64, play bool) error {
	s.mu.Lock()
	if gen != s.loadGen {
		s.mu.Unlock()
		s.handles.Release(handle)
		return nil
	}

	s.handle = handle
	s.outputLoaded = true
	if d := s.output.Duration(); d > 0 {
		s.state.Duration = d
	}
	s.output.SetVolume(s.state.Volume)
	startAt = clampPercent(startAt)
	if startAt > 0 {
		s.output.Seek(percentToSeconds(startAt, s.state.Duration))
	}
	s.state.Progress = startAt

	var err error
	if play {
		if err = s.output.Play(); err == nil {
			s.state.Playing = true
		} else {
			s.state.Playing = false
		}
	}

	s.persistLocked()
	s.notifyLocked()
	s.mu.Unlock()
	return err
}

func (s *Session) isCurrentGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.loadGen
}

// Toggle flips play/pause. After a restore the output has no source yet, so
// the first resume regenerates the handle and reloads it at the saved
// position.
func (s *Session) Toggle(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.Visible || s.state.CurrentSong == nil {
		s.mu.Unlock()
		return nil
	}

	if s.state.Playing {
		s.output.Pause()
		s.state.Playing = false
		s.persistLocked()
		s.notifyLocked()
		s.mu.Unlock()
		return nil
	}

	if s.outputLoaded {
		err := s.output.Play()
		if err == nil {
			s.state.Playing = true
		}
		s.notifyLocked()
		s.mu.Unlock()
		return err
	}

	// Resume without a readied output: reload from the stored payload
	gen := s.loadGen
	song := s.state.CurrentSong
	progress := s.state.Progress
	oldHandle := s.handle
	s.handle = nil
	s.mu.Unlock()

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.handles.Release(oldHandle)
	if !s.isCurrentGen(gen) {
		return nil
	}

	handle, err := s.handles.Acquire(song)
	if err != nil {
		return err
	}

	lctx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	if err := s.output.Load(lctx, handle.Path, handle.MIMEType); err != nil {
		s.handles.Release(handle)
		return fmt.Errorf("failed to ready source: %w", err)
	}

	return s.commitLoad(gen, handle, progress, true)
}

// Next advances to the next queue position and plays it. Sequential order
// wraps at the end; shuffle picks a random position and may land on the
// current song again.
func (s *Session) Next(ctx context.Context) error {
	return s.step(ctx, nextIndex)
}

// Previous moves to the previous queue position and plays it, wrapping at
// the front in sequential order.
func (s *Session) Previous(ctx context.Context) error {
	return s.step(ctx, previousIndex)
}

func (s *Session) step(ctx context.Context, pick func(n, current int, shuffle bool, rnd func(int) int) int) error {
	s.mu.Lock()
	if !s.state.Visible || len(s.state.Queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	index := pick(len(s.state.Queue), s.state.Index, s.state.Shuffle, s.rnd)
	song := s.state.Queue[index]
	queue := s.state.Queue
	playlistID := s.state.PlaylistID
	s.mu.Unlock()

	return s.beginLoad(ctx, song, queue, index, playlistID)
}

// Seek moves the playback position to a percentage of the duration,
// clamped to 0..100. A no-op while the duration is unknown.
func (s *Session) Seek(percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Visible || s.state.CurrentSong == nil || s.state.Duration <= 0 {
		return
	}

	pct := clampPercent(percent)
	if s.outputLoaded {
		s.output.Seek(percentToSeconds(pct, s.state.Duration))
	}
	s.state.Progress = pct
	s.persistLocked()
	s.notifyLocked()
}

// SetVolume sets the output volume, clamped to 0..1
func (s *Session) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := clampVolume(volume)
	s.state.Volume = v
	if s.outputLoaded {
		s.output.SetVolume(v)
	}
	s.persistLocked()
	s.notifyLocked()
}

// ToggleShuffle flips shuffle mode
func (s *Session) ToggleShuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Shuffle = !s.state.Shuffle
	s.persistLocked()
	s.notifyLocked()
}

// CycleRepeat advances the repeat mode (none, one, all)
func (s *Session) CycleRepeat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Repeat = CycleRepeat(s.state.Repeat)
	s.persistLocked()
	s.notifyLocked()
}

// ToggleMinimized flips between the full and minimized presentation
func (s *Session) ToggleMinimized() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Visible {
		return
	}
	s.state.Minimized = !s.state.Minimized
	s.persistLocked()
	s.notifyLocked()
}

// Stop clears the session back to idle: the output is unloaded, the playable
// handle released, and the stored snapshot removed. Volume survives as a
// device-level preference.
func (s *Session) Stop() {
	s.mu.Lock()
	s.loadGen++
	handle := s.handle
	s.handle = nil
	s.outputLoaded = false
	volume := s.state.Volume
	s.state = State{Volume: volume, Repeat: RepeatNone}
	s.notifyLocked()
	s.mu.Unlock()

	s.output.Unload()
	s.handles.Release(handle)

	if err := s.persister.Clear(); err != nil {
		s.logger.WithError(err).Warn("Failed to clear playback snapshot")
	}
}

// Restore rebuilds the session from the stored snapshot. A missing, stale,
// or dangling snapshot (its song or playlist no longer exists) is discarded
// and the session stays idle. A successful restore comes back paused and
// minimized; the handle is staged but the output is readied lazily on the
// first resume.
func (s *Session) Restore() (bool, error) {
	snap, err := s.snapshots.Load()
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}

	discard := func(reason string) (bool, error) {
		s.logger.WithField("reason", reason).Info("Discarding playback snapshot")
		if err := s.snapshots.Clear(); err != nil {
			s.logger.WithError(err).Warn("Failed to clear playback snapshot")
		}
		return false, nil
	}

	if age := snap.Age(time.Now()); age > s.restoreMaxAge {
		return discard(fmt.Sprintf("stale (%s old)", age.Round(time.Minute)))
	}

	song, err := s.store.GetSong(snap.SongID)
	if err != nil {
		return false, err
	}
	if song == nil {
		return discard("song no longer exists")
	}

	var queue []*models.Song
	if snap.PlaylistID != "" {
		playlist, err := s.store.GetPlaylist(snap.PlaylistID)
		if err != nil {
			return false, err
		}
		if playlist == nil {
			return discard("playlist no longer exists")
		}
		queue, err = s.store.GetPlaylistSongs(snap.PlaylistID)
		if err != nil {
			return false, err
		}
	} else {
		queue, err = s.store.GetAllSongs()
		if err != nil {
			return false, err
		}
	}

	index, ok := indexOf(queue, song.ID)
	if !ok {
		return discard("song no longer in its queue")
	}

	handle, err := s.handles.Acquire(song)
	if err != nil {
		if cerr := s.snapshots.Clear(); cerr != nil {
			s.logger.WithError(cerr).Warn("Failed to clear playback snapshot")
		}
		return false, err
	}

	duration := snap.Duration
	if duration <= 0 {
		duration = song.Duration
	}

	s.mu.Lock()
	s.loadGen++
	s.handle = handle
	s.outputLoaded = false
	s.state = State{
		Visible:     true,
		Minimized:   true,
		CurrentSong: song,
		PlaylistID:  snap.PlaylistID,
		Queue:       queue,
		Index:       index,
		Playing:     false,
		Progress:    clampPercent(snap.Progress),
		Duration:    duration,
		Volume:      clampVolume(snap.Volume),
		Shuffle:     snap.Shuffle,
		Repeat:      snap.Repeat,
	}
	s.notifyLocked()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"song_id":  song.ID,
		"progress": snap.Progress,
	}).Info("Restored playback session")

	return true, nil
}

// Close stops the event loop, flushes any pending snapshot, and releases
// the playable handle.
func (s *Session) Close() {
	close(s.done)
	s.wg.Wait()

	s.persister.Flush()

	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.outputLoaded = false
	for id, ch := range s.listeners {
		delete(s.listeners, id)
		close(ch)
	}
	s.mu.Unlock()

	s.output.Unload()
	s.handles.Release(handle)
}

// watch consumes output events and samples playback progress
func (s *Session) watch() {
	defer s.wg.Done()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.output.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) handleEvent(ev audio.Event) {
	switch ev.Kind {
	case audio.EventEnded:
		s.onTrackEnded()
	case audio.EventError:
		s.logger.WithError(ev.Err).Error("Playback error")
		s.mu.Lock()
		s.state.Playing = false
		s.notifyLocked()
		s.mu.Unlock()
	}
}

// onTrackEnded applies the end-of-track rule for the current repeat mode
func (s *Session) onTrackEnded() {
	s.mu.Lock()
	action := endOfTrack(&s.state)
	s.mu.Unlock()

	switch action {
	case endRestart:
		s.mu.Lock()
		if s.outputLoaded {
			s.output.Seek(0)
			if err := s.output.Play(); err == nil {
				s.state.Progress = 0
				s.state.Playing = true
			}
		}
		s.notifyLocked()
		s.mu.Unlock()
	case endAdvance:
		if err := s.Next(context.Background()); err != nil {
			s.logger.WithError(err).Warn("Failed to advance after track end")
		}
	case endStop:
		s.Stop()
	}
}

// tick refreshes the observed progress while playing. Ticks notify
// observers but are never persisted.
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Playing || !s.outputLoaded {
		return
	}
	s.state.Progress = secondsToPercent(s.output.Position(), s.state.Duration)
	s.notifyLocked()
}

// persistCurrent requests a snapshot of the current state
func (s *Session) persistCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

// persistLocked requests a debounced snapshot write. Caller holds s.mu.
func (s *Session) persistLocked() {
	if !s.state.Visible || s.state.CurrentSong == nil {
		return
	}

	s.persister.Request(&Snapshot{
		SongID:     s.state.CurrentSong.ID,
		PlaylistID: s.state.PlaylistID,
		QueueIDs:   lo.Map(s.state.Queue, func(song *models.Song, _ int) string { return song.ID }),
		Index:      s.state.Index,
		Progress:   s.state.Progress,
		Duration:   s.state.Duration,
		Volume:     s.state.Volume,
		Shuffle:    s.state.Shuffle,
		Repeat:     s.state.Repeat,
		Minimized:  s.state.Minimized,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// notifyLocked fans the current state out to observers. Caller holds s.mu.
func (s *Session) notifyLocked() {
	snapshot := cloneState(&s.state)
	for _, ch := range s.listeners {
		select {
		case ch <- snapshot:
		default:
			// observer is behind; it will catch up on the next change
		}
	}
}
