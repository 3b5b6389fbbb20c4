// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "turn on the lights"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ander/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Complete. Nil yields an empty response.
	Response *llm.CompletionResponse

	// Err, if non-nil, is returned by Complete.
	Err error

	requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete records req and returns Response, Err.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Response == nil {
		return &llm.CompletionResponse{}, nil
	}
	r := *p.Response
	return &r, nil
}

// Requests returns the recorded requests.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}
