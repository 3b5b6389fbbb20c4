package resilience

import (
	"context"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/provider/tts"
	"github.com/MrWong99/ander/pkg/types"
)

// GuardedSTT routes [stt.Provider.StartStream] through a breaker. Audio
// sent on an already open session is not guarded.
type GuardedSTT struct {
	inner   stt.Provider
	breaker *CircuitBreaker
}

var _ stt.Provider = (*GuardedSTT)(nil)

// GuardSTT wraps p with cb.
func GuardSTT(p stt.Provider, cb *CircuitBreaker) *GuardedSTT {
	return &GuardedSTT{inner: p, breaker: cb}
}

// StartStream implements stt.Provider.
func (g *GuardedSTT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Do(ctx, g.breaker, func(ctx context.Context) (stt.SessionHandle, error) {
		return g.inner.StartStream(ctx, cfg)
	})
}

// GuardedTTS routes stream setup and voice listing through a breaker.
// Failures after the audio channel is returned are the caller's concern.
type GuardedTTS struct {
	inner   tts.Provider
	breaker *CircuitBreaker
}

var _ tts.Provider = (*GuardedTTS)(nil)

// GuardTTS wraps p with cb.
func GuardTTS(p tts.Provider, cb *CircuitBreaker) *GuardedTTS {
	return &GuardedTTS{inner: p, breaker: cb}
}

// SynthesizeStream implements tts.Provider.
func (g *GuardedTTS) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return Do(ctx, g.breaker, func(ctx context.Context) (<-chan []byte, error) {
		return g.inner.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices implements tts.Provider.
func (g *GuardedTTS) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return Do(ctx, g.breaker, g.inner.ListVoices)
}

// Format implements tts.Provider.
func (g *GuardedTTS) Format() audio.Format { return g.inner.Format() }

// GuardedLLM routes completions through a breaker.
type GuardedLLM struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

var _ llm.Provider = (*GuardedLLM)(nil)

// GuardLLM wraps p with cb.
func GuardLLM(p llm.Provider, cb *CircuitBreaker) *GuardedLLM {
	return &GuardedLLM{inner: p, breaker: cb}
}

// Complete implements llm.Provider.
func (g *GuardedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, g.breaker, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return g.inner.Complete(ctx, req)
	})
}
