package player

import (
	"testing"

	"serenade/pkg/models"
)

func TestCycleRepeat(t *testing.T) {
	order := []RepeatMode{RepeatNone, RepeatOne, RepeatAll, RepeatNone}
	mode := RepeatNone
	for i := 1; i < len(order); i++ {
		mode = CycleRepeat(mode)
		if mode != order[i] {
			t.Fatalf("step %d: expected %s, got %s", i, order[i], mode)
		}
	}

	if got := CycleRepeat(RepeatMode("garbage")); got != RepeatNone {
		t.Errorf("unknown mode should reset to none, got %s", got)
	}
}

func TestEndOfTrack(t *testing.T) {
	queue := []*models.Song{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	cases := []struct {
		name  string
		state State
		want  endAction
	}{
		{"repeat one restarts", State{Queue: queue, Index: 0, Repeat: RepeatOne}, endRestart},
		{"repeat one restarts even at end", State{Queue: queue, Index: 2, Repeat: RepeatOne}, endRestart},
		{"repeat all advances at end", State{Queue: queue, Index: 2, Repeat: RepeatAll}, endAdvance},
		{"no repeat advances mid-queue", State{Queue: queue, Index: 1, Repeat: RepeatNone}, endAdvance},
		{"no repeat stops at end", State{Queue: queue, Index: 2, Repeat: RepeatNone}, endStop},
		{"shuffle does not override the stopping rule", State{Queue: queue, Index: 2, Repeat: RepeatNone, Shuffle: true}, endStop},
		{"single-song queue stops", State{Queue: queue[:1], Index: 0, Repeat: RepeatNone}, endStop},
		{"empty queue stops", State{Repeat: RepeatAll}, endStop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := endOfTrack(&tc.state); got != tc.want {
				t.Errorf("expected action %d, got %d", tc.want, got)
			}
		})
	}
}

func TestEndOfTrackEmptyQueueRepeatAll(t *testing.T) {
	s := State{Repeat: RepeatAll}
	// Contradiction guard: repeat-all with nothing queued must not loop
	if got := endOfTrack(&s); got != endStop {
		t.Errorf("expected stop, got %d", got)
	}
}

func TestNextPreviousIndex(t *testing.T) {
	noRand := func(int) int {
		t.Fatal("sequential stepping must not consult the picker")
		return 0
	}

	if got := nextIndex(3, 2, false, noRand); got != 0 {
		t.Errorf("next should wrap: got %d", got)
	}
	if got := nextIndex(3, 0, false, noRand); got != 1 {
		t.Errorf("next mid-queue: got %d", got)
	}
	if got := previousIndex(3, 0, false, noRand); got != 2 {
		t.Errorf("previous should wrap: got %d", got)
	}
	if got := previousIndex(3, 2, false, noRand); got != 1 {
		t.Errorf("previous mid-queue: got %d", got)
	}

	fixed := func(n int) int { return n - 1 }
	if got := nextIndex(4, 1, true, fixed); got != 3 {
		t.Errorf("shuffle next should use the picker: got %d", got)
	}
	if got := previousIndex(4, 1, true, fixed); got != 3 {
		t.Errorf("shuffle previous should use the picker: got %d", got)
	}
}

func TestClamps(t *testing.T) {
	if got := clampVolume(1.5); got != 1 {
		t.Errorf("clampVolume(1.5) = %f", got)
	}
	if got := clampVolume(-0.1); got != 0 {
		t.Errorf("clampVolume(-0.1) = %f", got)
	}
	if got := clampPercent(120); got != 100 {
		t.Errorf("clampPercent(120) = %f", got)
	}
	if got := clampPercent(-3); got != 0 {
		t.Errorf("clampPercent(-3) = %f", got)
	}
	if got := percentToSeconds(50, 300); got != 150 {
		t.Errorf("percentToSeconds(50, 300) = %f", got)
	}
	if got := percentToSeconds(50, 0); got != 0 {
		t.Errorf("unknown duration should map to 0, got %f", got)
	}
	if got := secondsToPercent(150, 300); got != 50 {
		t.Errorf("secondsToPercent(150, 300) = %f", got)
	}
	if got := secondsToPercent(150, 0); got != 0 {
		t.Errorf("unknown duration should report 0%%, got %f", got)
	}
}
