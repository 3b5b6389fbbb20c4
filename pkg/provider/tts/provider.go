// Package tts defines the Provider interface for text-to-speech backends.
//
// SynthesizeStream accepts a channel of text fragments and returns a
// channel of raw 16-bit PCM as it is synthesised. The spoken response is
// usually a single sentence, sent as one fragment.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/types"
)

// ErrVoiceNotFound is returned when the requested voice does not exist.
var ErrVoiceNotFound = errors.New("tts: voice not found")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes fragments from text until it is closed and
	// returns a channel of PCM chunks in Format(). The audio channel is
	// closed when synthesis is complete, fails or ctx is cancelled; callers
	// must drain it. A non-nil error means the stream could not start.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the provider's voice catalogue.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// Format is the PCM layout of synthesised audio.
	Format() audio.Format
}

// Text returns a closed channel holding the single fragment s.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
