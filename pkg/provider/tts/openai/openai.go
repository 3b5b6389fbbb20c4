// Package openai provides a TTS provider backed by the OpenAI speech API.
// Audio is requested as raw PCM, which the API delivers as 24 kHz 16-bit
// mono.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/tts"
	"github.com/MrWong99/ander/pkg/types"
)

const (
	defaultModel = oai.SpeechModelTTS1
	defaultVoice = "alloy"
	chunkSize    = 4800
)

// builtinVoices is the fixed OpenAI voice catalogue.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using OpenAI speech synthesis.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
	voice  string
}

type config struct {
	baseURL string
	model   string
	voice   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model (e.g. "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDefaultVoice sets the voice used when a profile carries no ID.
func WithDefaultVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: string(defaultModel), voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  oai.SpeechModel(cfg.model),
		voice:  cfg.voice,
	}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return audio.Format{SampleRate: 24000, Channels: 1} }

// SynthesizeStream collects the text fragments into one request and streams
// the PCM response body in fixed-size chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	var sb strings.Builder
	for frag := range text {
		sb.WriteString(frag)
	}
	input := strings.TrimSpace(sb.String())
	if input == "" {
		ch := make(chan []byte)
		close(ch)
		return ch, nil
	}

	voice = voice.WithDefaults()
	id := voice.ID
	if id == "" {
		id = p.voice
	}
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          input,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          oai.Float(min(max(voice.Rate, 0.25), 4.0)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: synthesize: %w", err)
	}

	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case ch <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns the built-in voice catalogue.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, types.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}
