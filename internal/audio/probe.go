package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DurationProber reports the playable duration of raw audio bytes, or an
// error when the bytes cannot be decoded in time.
type DurationProber interface {
	Probe(ctx context.Context, data []byte, mimeType, filename string) (float64, error)
}

// Prober decodes durations with a bounded deadline so a malformed file can
// never hang an upload.
type Prober struct {
	timeout time.Duration
	logger  *logrus.Logger
}

// NewProber creates a prober with the given per-probe timeout
func NewProber(timeout time.Duration) *Prober {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Prober{
		timeout: timeout,
		logger:  logger,
	}
}

// Probe decodes the duration of data, failing when decoding errors out or
// the deadline passes first.
func (p *Prober) Probe(ctx context.Context, data []byte, mimeType, filename string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		duration float64
		err      error
	}

	// Buffered so a late decode result never leaks the goroutine.
	ch := make(chan result, 1)
	go func() {
		duration, err := DecodeDuration(data, mimeType, filename)
		ch <- result{duration: duration, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			p.logger.WithError(res.err).WithFields(logrus.Fields{
				"filename": filename,
				"mimeType": mimeType,
			}).Warn("Playability probe failed")
			return 0, res.err
		}
		return res.duration, nil
	case <-ctx.Done():
		p.logger.WithFields(logrus.Fields{
			"filename": filename,
			"timeout":  p.timeout,
		}).Warn("Playability probe timed out")
		return 0, fmt.Errorf("playability probe timed out after %s: %w", p.timeout, ctx.Err())
	}
}
