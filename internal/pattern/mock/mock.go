// Package mock provides a test double for pattern.Engine.
package mock

import (
	"context"
	"sync"

	"github.com/customcuts/whisperhost/internal/pattern"
)

var _ pattern.Engine = (*Engine)(nil)

// Engine returns canned features and counts calls. Capability flags are
// explicit so tests can switch phases off.
type Engine struct {
	mu sync.Mutex

	Fingerprints bool
	Embeddings   bool

	FingerprintResult []int32
	FingerprintErr    error
	EmbedResult       []float32
	EmbedErr          error

	fingerprintCalls int
	embedCalls       int
}

// SupportsFingerprint implements pattern.Engine.
func (e *Engine) SupportsFingerprint() bool { return e.Fingerprints }

// SupportsEmbedding implements pattern.Engine.
func (e *Engine) SupportsEmbedding() bool { return e.Embeddings }

// Fingerprint implements pattern.Engine.
func (e *Engine) Fingerprint(context.Context, []float32) ([]int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fingerprintCalls++
	return e.FingerprintResult, e.FingerprintErr
}

// Embed implements pattern.Engine.
func (e *Engine) Embed(context.Context, []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.embedCalls++
	return e.EmbedResult, e.EmbedErr
}

// FingerprintCalls returns the number of Fingerprint calls.
func (e *Engine) FingerprintCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fingerprintCalls
}

// EmbedCalls returns the number of Embed calls.
func (e *Engine) EmbedCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embedCalls
}
