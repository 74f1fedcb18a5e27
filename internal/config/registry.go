package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/customcuts/whisperhost/pkg/provider/embeddings"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds a speech engine from its resolved config entry.
type STTFactory func(EngineEntry) (stt.Transcriber, error)

// EmbeddingsFactory builds an embeddings provider.
type EmbeddingsFactory func(ProviderEntry) (embeddings.Provider, error)

// Registry maps engine kinds and provider names to their constructor
// functions. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]STTFactory
	embeddings map[string]EmbeddingsFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]STTFactory),
		embeddings: make(map[string]EmbeddingsFactory),
	}
}

// RegisterSTT registers a speech engine factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterSTT(kind string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[kind] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory EmbeddingsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateSTT instantiates the speech engine registered under kind.
// Returns [ErrProviderNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateSTT(kind string, entry EngineEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, kind)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates the embeddings provider registered under
// entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// STTKinds returns the registered engine kinds in sorted order.
func (r *Registry) STTKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.stt))
	for k := range r.stt {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// OptString extracts a string value from an Options map. Returns "" if the
// map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	if s, ok := opts[key].(string); ok {
		return s
	}
	return ""
}

// OptInt extracts an integer value from an Options map. YAML integers decode
// as int; floats are truncated.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
