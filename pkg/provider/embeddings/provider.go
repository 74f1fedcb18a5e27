// Package embeddings defines the text-embedding backend used for semantic
// audio patterns. A semantic pattern compares what is being said: the chunk
// is transcribed and the transcript is embedded with a [Provider].
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to a dense vector. All vectors from one Provider share a
// dimensionality; vectors from different models must not be compared.
type Provider interface {
	// Embed computes the embedding of text. Text is passed through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelID identifies the embedding model, e.g. "nomic-embed-text".
	ModelID() string
}
