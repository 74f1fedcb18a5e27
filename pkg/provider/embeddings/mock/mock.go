// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/customcuts/whisperhost/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
//
// When Vectors has an entry for the input text it is returned, otherwise
// EmbedResult. EmbedErr takes precedence over both.
type Provider struct {
	mu sync.Mutex

	EmbedResult  []float32
	Vectors      map[string][]float32
	EmbedErr     error
	ModelIDValue string

	// Texts records every text passed to Embed, in order.
	Texts []string
}

// Embed records the call and returns the configured vector or error.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Texts = append(p.Texts, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	return p.EmbedResult, nil
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Calls returns the number of Embed calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Texts)
}
