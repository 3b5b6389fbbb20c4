// Package mock provides a recording implementation of [audio.Player] for
// unit tests.
//
//	p := &mock.Player{}
//	_ = p.Play(ctx, clip)
//	p.Clips() // [clip]
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ander/pkg/audio"
)

var _ audio.Player = (*Player)(nil)

// Player records every clip it is asked to play.
type Player struct {
	mu    sync.Mutex
	clips []audio.Clip

	// PlayErr is returned by Play after recording the clip.
	PlayErr error

	// Block, when set, makes Play wait until the channel is closed or ctx is
	// cancelled.
	Block chan struct{}

	// Started, when set, receives a value every time Play begins.
	Started chan struct{}
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, c audio.Clip) error {
	p.mu.Lock()
	p.clips = append(p.clips, c)
	err := p.PlayErr
	block, started := p.Block, p.Started
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Clips returns the clips played so far.
func (p *Player) Clips() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Clip(nil), p.clips...)
}

// Reset clears recorded clips.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clips = nil
}
