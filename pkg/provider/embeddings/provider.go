// Package embeddings defines the Provider interface for text-embedding
// backends used by the vector knowledge index.
//
// Every vector returned by one Provider instance has length Dimensions(). Query
// vectors and stored chunk vectors must come from the same model, so the
// knowledge index records ModelID alongside each chunk.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in as few backend calls as possible. The i-th
	// result corresponds to texts[i]; on error no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector from this provider.
	Dimensions() int

	// ModelID returns the backend model identifier.
	ModelID() string
}
