// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server (POST /inference). [Native]
// links the whisper.cpp library through its Go bindings. whisper.cpp is a
// batch engine, so both segment the incoming PCM on trailing silence and
// transcribe each utterance as a whole; every committed utterance is
// emitted as a partial and a final carrying the same text.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	handle.SendAudio(pcmChunk)
//	handle.Close() // flushes the last utterance
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/types"
)

const defaultLanguage = "en"

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server. Empty uses
// whatever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a stream names none.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilence sets the trailing silence that ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxUtterance caps the length of a single utterance.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithHTTPClient replaces the inference client (30s timeout by default).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL    string
	model        string
	language     string
	silence      time.Duration
	maxUtterance time.Duration
	httpClient   *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No connection is made until the first
// utterance is complete. Keywords become the decoder prompt.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	form := inferenceForm{
		language: baseLanguage(cfg.Language, p.language),
		model:    p.model,
		prompt:   vocabularyPrompt(cfg.Keywords),
	}
	seg := &audio.Segmenter{Format: stt.FormatOf(cfg), Silence: p.silence, MaxUtterance: p.maxUtterance}
	return stt.NewBatchSession(ctx, seg, func(ctx context.Context, c audio.Clip) (string, error) {
		return p.infer(ctx, c, form)
	}), nil
}

// baseLanguage reduces a BCP-47 tag to the bare code whisper.cpp expects
// ("en-US" becomes "en").
func baseLanguage(tag, fallback string) string {
	if tag == "" {
		tag = fallback
	}
	code, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(code)
}

// vocabularyPrompt lists the keywords as a comma separated prompt, which
// biases whisper's decoder towards those spellings.
func vocabularyPrompt(keywords []types.KeywordBoost) string {
	words := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if w := strings.TrimSpace(k.Keyword); w != "" {
			words = append(words, w)
		}
	}
	return strings.Join(words, ", ")
}

// inferenceForm holds the non-audio fields of an /inference request.
// Empty fields are omitted.
type inferenceForm struct {
	language string
	model    string
	prompt   string
}

// encode writes the WAV clip and the form fields as multipart data.
func (f inferenceForm) encode(wav []byte) (body *bytes.Buffer, contentType string, err error) {
	body = new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err == nil {
		_, err = part.Write(wav)
	}
	fields := [...][2]string{
		{"language", f.language},
		{"model", f.model},
		{"prompt", f.prompt},
		{"response_format", "json"},
	}
	for _, kv := range fields {
		if err == nil && kv[1] != "" {
			err = mw.WriteField(kv[0], kv[1])
		}
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, "", fmt.Errorf("whisper: encode form: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

// infer POSTs one utterance to /inference and returns the trimmed text.
func (p *Provider) infer(ctx context.Context, c audio.Clip, form inferenceForm) (string, error) {
	wav, err := audio.EncodeWAV(c)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	body, contentType, err := form.encode(wav)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: inference: status %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode inference: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
