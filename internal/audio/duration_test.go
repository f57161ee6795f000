package audio

import (
	"context"
	"testing"
	"time"
)

func TestFormatDispatch(t *testing.T) {
	cases := []struct {
		mime     string
		filename string
		want     string
	}{
		{"audio/mpeg", "x.bin", "mp3"},
		{"audio/mp3", "x.bin", "mp3"},
		{"audio/flac", "x.bin", "flac"},
		{"audio/x-wav", "x.bin", "wav"},
		{"audio/mp4", "x.bin", "m4a"},
		{"", "song.MP3", "mp3"},
		{"application/octet-stream", "song.flac", "flac"},
		{"", "song.ogg", ""},
	}

	for _, tc := range cases {
		if got := formatOf(tc.mime, tc.filename); got != tc.want {
			t.Errorf("formatOf(%q, %q) = %q, want %q", tc.mime, tc.filename, got, tc.want)
		}
	}
}

func TestDecodeDurationRejectsGarbage(t *testing.T) {
	if _, err := DecodeDuration(make([]byte, 64), "audio/mpeg", "noise.mp3"); err == nil {
		t.Error("expected error for undecodable mp3 bytes")
	}
	if _, err := DecodeDuration([]byte{1, 2, 3}, "audio/ogg", "noise.ogg"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestProberTimeout(t *testing.T) {
	p := NewProber(time.Nanosecond)

	// The deadline is already gone when the decode starts, so the probe
	// must fail fast with a timeout instead of hanging.
	_, err := p.Probe(context.Background(), make([]byte, 64), "audio/mpeg", "slow.mp3")
	if err == nil {
		t.Error("expected probe failure")
	}
}

func TestProberPropagatesDecodeErrors(t *testing.T) {
	p := NewProber(time.Second)

	if _, err := p.Probe(context.Background(), make([]byte, 64), "audio/mpeg", "noise.mp3"); err == nil {
		t.Error("expected decode error for raw noise")
	}
}
