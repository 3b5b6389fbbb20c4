package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factorySet holds the factories of one provider kind.
type factorySet[P any] struct {
	kind   string
	byName map[string]Factory[P]
}

func newFactorySet[P any](kind string) factorySet[P] {
	return factorySet[P]{kind: kind, byName: make(map[string]Factory[P])}
}

func (s factorySet[P]) create(entry ProviderEntry) (P, error) {
	f, ok := s.byName[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("config: create %s provider %q: %w", s.kind, entry.Name, err)
	}
	return p, nil
}

func (s factorySet[P]) names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to factories per kind. Registration
// happens in main before any Create call; the mutex keeps late
// registrations safe. Re-registering a name replaces its factory.
type Registry struct {
	mu  sync.RWMutex
	stt factorySet[stt.Provider]
	tts factorySet[tts.Provider]
	llm factorySet[llm.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactorySet[stt.Provider]("stt"),
		tts: newFactorySet[tts.Provider]("tts"),
		llm: newFactorySet[llm.Provider]("llm"),
	}
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.byName[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts.byName[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.byName[name] = f
	r.mu.Unlock()
}

// CreateSTT builds the speech-to-text provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS builds the text-to-speech provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// Names returns the registered names of kind ("stt", "tts" or "llm"),
// sorted. Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.stt.kind:
		return r.stt.names()
	case r.tts.kind:
		return r.tts.names()
	case r.llm.kind:
		return r.llm.names()
	}
	return nil
}
