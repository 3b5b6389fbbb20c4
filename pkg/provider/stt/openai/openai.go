// Package openai provides an STT provider backed by the OpenAI audio
// transcription API. Transcription is batch only, so sessions are segmented
// on silence and each utterance is uploaded as a WAV file.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/stt"
)

const defaultModel = oai.AudioModelWhisper1

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using OpenAI transcriptions.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	silence  time.Duration
}

type config struct {
	baseURL  string
	model    string
	language string
	silence  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL, e.g. for an OpenAI-compatible
// local server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model (e.g. "gpt-4o-mini-transcribe").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the ISO-639-1 default language.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithSilence sets the trailing silence that ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(c *config) { c.silence = d }
}

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	p := &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    defaultModel,
		language: cfg.language,
		silence:  cfg.silence,
	}
	if cfg.model != "" {
		p.model = oai.AudioModel(cfg.model)
	}
	return p, nil
}

// StartStream opens a segmenting session. Keywords are passed to the model
// as a prompt, which biases recognition towards them.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}
	params := oai.AudioTranscriptionNewParams{Model: p.model}
	if lang := languageCode(cfg.Language, p.language); lang != "" {
		params.Language = oai.String(lang)
	}
	if prompt := keywordPrompt(cfg); prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	seg := &audio.Segmenter{Format: stt.FormatOf(cfg), Silence: p.silence}
	return stt.NewBatchSession(ctx, seg, func(ctx context.Context, c audio.Clip) (string, error) {
		return p.transcribe(ctx, c, params)
	}), nil
}

func (p *Provider) transcribe(ctx context.Context, c audio.Clip, params oai.AudioTranscriptionNewParams) (string, error) {
	wav, err := audio.EncodeWAV(c)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	params.File = oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav")

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// languageCode reduces a BCP-47 tag to the ISO-639-1 code the API expects.
func languageCode(tag, fallback string) string {
	if tag == "" {
		tag = fallback
	}
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(base)
}

func keywordPrompt(cfg stt.StreamConfig) string {
	words := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw.Keyword != "" {
			words = append(words, kw.Keyword)
		}
	}
	return strings.Join(words, ", ")
}
