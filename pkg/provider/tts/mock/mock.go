// Package mock provides a test double for the tts.Provider interface.
//
//	p := &mock.Provider{
//	    Chunks: [][]byte{pcm},
//	    Voices: []types.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, tts.Text("hello"), voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/tts"
	"github.com/MrWong99/ander/pkg/types"
)

// SynthesizeCall records a single invocation of SynthesizeStream. Text is
// the concatenation of all fragments received.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted on every synthesis stream.
	Chunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	Voices        []types.VoiceProfile
	ListVoicesErr error

	// AudioFormat is returned by Format. Zero means audio.STT.
	AudioFormat audio.Format

	calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream reads all of text, records the call and then emits
// Chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	err := p.SynthesizeErr
	chunks := append([][]byte(nil), p.Chunks...)
	p.mu.Unlock()

	var full string
	for frag := range text {
		full += frag
	}
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Text: full, Voice: voice})
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// Format returns AudioFormat.
func (p *Provider) Format() audio.Format {
	if p.AudioFormat.Valid() {
		return p.AudioFormat
	}
	return audio.STT
}

// Calls returns the recorded synthesis calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.calls...)
}
