package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/embeddings"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/provider/llm"
)

// ErrProviderNotRegistered means no factory exists for a provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is the name → constructor table for one provider kind.
type factories[P any] struct {
	kind string
	byID map[string]Factory[P]
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, byID: map[string]Factory[P]{}}
}

func (f factories[P]) build(e ProviderEntry) (P, error) {
	mk, ok := f.byID[e.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	return mk(e)
}

// Registry resolves provider names from the config to constructors. main
// fills it once at startup; it is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
	}
}

// RegisterLLM adds or replaces the LLM factory for name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.byID[name] = f
	r.mu.Unlock()
}

// RegisterEmbeddings adds or replaces the embeddings factory for name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	r.embeddings.byID[name] = f
	r.mu.Unlock()
}

// Names lists the registered LLM provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm.byID))
}

// CreateLLM builds the LLM named by e.Name.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.build(e)
}

// CreateEmbeddings builds the embedder named by e.Name.
func (r *Registry) CreateEmbeddings(e ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.build(e)
}

// CreateLLMChain builds primary and then each fallback, keeping that order.
// Any entry that fails to build fails the whole chain.
func (r *Registry) CreateLLMChain(primary ProviderEntry, fallbacks []ProviderEntry) ([]llm.Provider, error) {
	entries := append([]ProviderEntry{primary}, fallbacks...)
	chain := make([]llm.Provider, 0, len(entries))
	for i, e := range entries {
		p, err := r.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("config: llm chain[%d] %s/%s: %w", i, e.Name, e.Model, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}
