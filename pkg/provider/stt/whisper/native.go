// The native provider links whisper.cpp through its CGO bindings. libwhisper.a
// and whisper.h must be reachable through LIBRARY_PATH and C_INCLUDE_PATH at
// build time.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/stt"
)

var _ stt.Provider = (*Native)(nil)

// Native implements stt.Provider in-process. The model is loaded once and
// shared; each utterance gets its own whisper context.
type Native struct {
	model        whisperlib.Model
	language     string
	silence      time.Duration
	maxUtterance time.Duration

	// whisper contexts are not thread-safe and inference is CPU bound, so
	// one utterance is transcribed at a time across all sessions.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a Native provider.
type NativeOption func(*Native)

// WithNativeLanguage sets the default language code. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *Native) { p.language = lang }
}

// WithNativeSilence sets the trailing silence that ends an utterance.
func WithNativeSilence(d time.Duration) NativeOption {
	return func(p *Native) { p.silence = d }
}

// WithNativeMaxUtterance caps the length of a single utterance.
func WithNativeMaxUtterance(d time.Duration) NativeOption {
	return func(p *Native) { p.maxUtterance = d }
}

// NewNative loads the ggml model at modelPath. The caller must Close the
// provider to release it.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *Native) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// StartStream opens a session.
func (p *Native) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	seg := &audio.Segmenter{Format: stt.FormatOf(cfg), Silence: p.silence, MaxUtterance: p.maxUtterance}
	return stt.NewBatchSession(ctx, seg, func(ctx context.Context, c audio.Clip) (string, error) {
		return p.infer(ctx, c, lang)
	}), nil
}

// infer resamples to the 16 kHz mono float input whisper.cpp expects and
// joins the decoded segments.
func (p *Native) infer(ctx context.Context, c audio.Clip, lang string) (string, error) {
	c = c.Convert(audio.STT)
	samples := audio.Float32Mono(c.PCM, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: infer: %w", err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: unsupported language, using model default", "language", lang, "err", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
