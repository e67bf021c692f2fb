// Package embeddings provides text-embedding providers for the memory store's
// vector index.
package embeddings

import "context"

// Provider computes embedding vectors for text. Implementations must be safe
// for concurrent use and must return vectors of a fixed dimension.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
