package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/neda-ai/neda/pkg/provider/s2s"
	"github.com/neda-ai/neda/pkg/provider/s2s/gemini"
	"github.com/neda-ai/neda/pkg/provider/s2s/mock"
	"github.com/neda-ai/neda/pkg/provider/s2s/openai"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (s2s.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func(ProviderEntry) (s2s.Provider, error))}
}

// DefaultRegistry returns a registry with all built-in providers registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("gemini-live", func(entry ProviderEntry) (s2s.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})
	r.Register("openai-realtime", func(entry ProviderEntry) (s2s.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, opts...), nil
	})
	// "mock" runs sessions against an in-process fake upstream. Useful for
	// local development without provider credentials.
	r.Register("mock", func(ProviderEntry) (s2s.Provider, error) {
		return &mock.Provider{NewSessionPerConnect: true}, nil
	})
	return r
}

// Register registers a provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Create(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
