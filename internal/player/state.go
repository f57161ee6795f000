package player

import (
	"serenade/pkg/models"
)

// RepeatMode controls what happens when a track finishes
type RepeatMode string

const (
	RepeatNone RepeatMode = "none"
	RepeatOne  RepeatMode = "one"
	RepeatAll  RepeatMode = "all"
)

// CycleRepeat advances the repeat mode through its fixed cycle:
// none, one, all, and back to none. Unknown values reset to none.
func CycleRepeat(mode RepeatMode) RepeatMode {
	switch mode {
	case RepeatNone:
		return RepeatOne
	case RepeatOne:
		return RepeatAll
	default:
		return RepeatNone
	}
}

// State is a snapshot of the playback session visible to observers. Queue
// holds full song records (without payloads duplicated; they share the
// loaded slice) in play order.
type State struct {
	Visible   bool
	Minimized bool

	CurrentSong *models.Song
	PlaylistID  string // empty when playing from the whole library
	Queue       []*models.Song
	Index       int

	Playing  bool
	Progress float64 // percent of duration, 0..100
	Duration float64 // seconds
	Volume   float64 // 0..1

	Shuffle bool
	Repeat  RepeatMode
}

// endAction describes what an end-of-track event should do
type endAction int

const (
	endStop    endAction = iota // clear out and go idle
	endRestart                  // replay the current track
	endAdvance                  // move to the next queue position
)

// endOfTrack resolves the end-of-track rule for the current mode. Repeat-one
// always restarts. Repeat-all always advances (wrapping). With no repeat,
// playback advances while a later queue position exists and stops at the
// last one; shuffle does not change that stopping rule.
func endOfTrack(s *State) endAction {
	switch s.Repeat {
	case RepeatOne:
		return endRestart
	case RepeatAll:
		if len(s.Queue) == 0 {
			return endStop
		}
		return endAdvance
	default:
		if s.Index < len(s.Queue)-1 {
			return endAdvance
		}
		return endStop
	}
}

// nextIndex picks the next queue position. Sequential order wraps around;
// shuffle picks uniformly and may legitimately re-pick the current position.
func nextIndex(n, current int, shuffle bool, rnd func(int) int) int {
	if n == 0 {
		return 0
	}
	if shuffle {
		return rnd(n)
	}
	return (current + 1) % n
}

// previousIndex picks the previous queue position. Sequential order wraps
// around; shuffle picks uniformly, same as forward.
func previousIndex(n, current int, shuffle bool, rnd func(int) int) int {
	if n == 0 {
		return 0
	}
	if shuffle {
		return rnd(n)
	}
	return (current - 1 + n) % n
}

// clampVolume bounds a volume request to the valid range
func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampPercent bounds a position to the 0..100 range
func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// percentToSeconds maps a position percentage onto a known duration
func percentToSeconds(percent, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return clampPercent(percent) / 100 * duration
}

// secondsToPercent maps an absolute position back onto 0..100
func secondsToPercent(seconds, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return clampPercent(seconds / duration * 100)
}

// cloneState copies s for handing to observers. The queue slice is copied;
// song records are shared (observers must not mutate them).
func cloneState(s *State) State {
	out := *s
	if s.Queue != nil {
		out.Queue = make([]*models.Song, len(s.Queue))
		copy(out.Queue, s.Queue)
	}
	return out
}
