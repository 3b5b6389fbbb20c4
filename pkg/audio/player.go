package audio

import (
	"context"
	"log/slog"
	"time"
)

// Player renders clips on an output device.
//
// Play blocks until the clip has finished or ctx is cancelled, in which case
// playback stops and ctx.Err() is returned. Implementations must be safe for
// concurrent use; callers serialise utterances themselves.
type Player interface {
	Play(ctx context.Context, c Clip) error
}

// ClockPlayer is a [Player] for deployments without a local sound device.
// It converts the clip to its Format and holds for the clip's duration, so
// callers observe real playback timing and cancellation.
type ClockPlayer struct {
	Format Format
}

var _ Player = ClockPlayer{}

// Play implements [Player].
func (p ClockPlayer) Play(ctx context.Context, c Clip) error {
	if p.Format.Valid() {
		c = c.Convert(p.Format)
	}
	d := c.Duration()
	slog.Debug("audio: playing clip", "format", c.Format, "duration", d)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard is a [Player] that drops every clip immediately.
type Discard struct{}

var _ Player = Discard{}

// Play implements [Player].
func (Discard) Play(ctx context.Context, _ Clip) error { return ctx.Err() }
