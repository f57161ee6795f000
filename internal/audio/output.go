package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// EventKind identifies an asynchronous playback event
type EventKind int

const (
	// EventEnded fires when playback reaches the end of the loaded source.
	EventEnded EventKind = iota
	// EventError fires when the facility hits a decode or device error.
	EventError
)

// Event is an asynchronous notification from the playback facility
type Event struct {
	Kind EventKind
	Err  error
}

// Output is the decode/playback facility driven by the playback session.
// Implementations report duration once a source is ready, position while
// playing, and emit end-of-track and error events.
type Output interface {
	// Load prepares the file at path for playback, blocking until the
	// facility reports it can play or ctx is done.
	Load(ctx context.Context, path, mimeType string) error
	Play() error
	Pause()
	// Seek moves the playback position, in seconds.
	Seek(seconds float64)
	SetVolume(volume float64)
	// Duration reports the loaded source's length in seconds, 0 if unknown.
	Duration() float64
	// Position reports the current playback position in seconds.
	Position() float64
	Events() <-chan Event
	// Unload detaches the current source and stops any playback.
	Unload()
}

// NullOutput is a silent Output used when no audio device is bound (headless
// runs and the composition root before a UI attaches). It validates loads
// against the filesystem, derives durations by decoding, and otherwise only
// tracks transport state.
type NullOutput struct {
	mu       sync.Mutex
	duration float64
	position float64
	playing  bool
	loaded   bool
	events   chan Event
}

// NewNullOutput creates a silent playback facility
func NewNullOutput() *NullOutput {
	return &NullOutput{
		events: make(chan Event, 10),
	}
}

// Load reads the handle file and decodes its duration
func (o *NullOutput) Load(ctx context.Context, path, mimeType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read playable handle: %w", err)
	}

	duration, err := DecodeDuration(data, mimeType, path)
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.duration = duration
	o.position = 0
	o.playing = false
	o.loaded = true
	return nil
}

// Play marks the transport as playing
func (o *NullOutput) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.loaded {
		return fmt.Errorf("no source loaded")
	}
	o.playing = true
	return nil
}

// Pause marks the transport as paused
func (o *NullOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
}

// Seek moves the silent transport position
func (o *NullOutput) Seek(seconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if o.duration > 0 && seconds > o.duration {
		seconds = o.duration
	}
	o.position = seconds
}

// SetVolume is a no-op for the silent output
func (o *NullOutput) SetVolume(volume float64) {}

// Duration reports the decoded duration of the loaded source
func (o *NullOutput) Duration() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duration
}

// Position reports the silent transport position
func (o *NullOutput) Position() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position
}

// Events returns the (never firing) event stream
func (o *NullOutput) Events() <-chan Event {
	return o.events
}

// Unload detaches the current source
func (o *NullOutput) Unload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.duration = 0
	o.position = 0
	o.playing = false
	o.loaded = false
}
