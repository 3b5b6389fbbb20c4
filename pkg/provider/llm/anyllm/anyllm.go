// Package anyllm implements llm.Provider on top of
// github.com/mozilla-ai/any-llm-go, one client for hosted APIs (OpenAI,
// Anthropic, Gemini, DeepSeek, Mistral, Groq) and local servers (Ollama,
// llama.cpp, llamafile).
//
//	p, err := anyllm.New(anyllm.Config{Backend: "ollama", Model: "llama3.2"})
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/types"
)

// ErrEmptyResponse is returned when the backend answers without text.
var ErrEmptyResponse = errors.New("anyllm: empty response")

type backend struct {
	create func(...anyllmlib.Option) (anyllmlib.Provider, error)
	// local backends run on the user's machine and take no API key.
	local bool
}

var backends = map[string]backend{
	"openai":    {create: adapt(anyllmoai.New)},
	"anthropic": {create: adapt(anthropic.New)},
	"gemini":    {create: adapt(gemini.New)},
	"deepseek":  {create: adapt(deepseek.New)},
	"mistral":   {create: adapt(mistral.New)},
	"groq":      {create: adapt(groq.New)},
	"ollama":    {create: adapt(ollama.New), local: true},
	"llamacpp":  {create: adapt(llamacpp.New), local: true},
	"llamafile": {create: adapt(llamafile.New), local: true},
}

// adapt erases the concrete client type returned by a backend constructor.
func adapt[P anyllmlib.Provider](create func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		c, err := create(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Backends returns the accepted backend names, sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Local reports whether name is a backend that runs without an API key.
func Local(name string) bool {
	return backends[strings.ToLower(name)].local
}

// Config selects a backend and model.
type Config struct {
	// Backend is one of [Backends], case-insensitive.
	Backend string
	Model   string

	// APIKey is ignored by local backends. Hosted backends without a key
	// fall back to their environment variable, e.g. OPENAI_API_KEY.
	APIKey string

	// BaseURL overrides the backend endpoint.
	BaseURL string
}

// Provider implements llm.Provider by wrapping any-llm-go.
type Provider struct {
	client anyllmlib.Provider
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// New connects to the backend named in cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(cfg.Backend)
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", cfg.Backend, strings.Join(Backends(), ", "))
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" && !b.local {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	client, err := b.create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s client: %w", name, err)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

// Model returns the model every request is sent to.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider. Answers without text fail with
// [ErrEmptyResponse].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: request has no messages")
	}
	resp, err := p.client.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if content == "" {
		return nil, ErrEmptyResponse
	}

	out := &llm.CompletionResponse{Content: content}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

// params maps req onto the any-llm request. Zero temperature and max
// tokens are left unset so the backend default applies.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, toMessage(m))
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}

func toMessage(m types.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content}
}
