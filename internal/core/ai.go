package core

import "context"

// EmbeddingProvider turns one request worth of texts into vectors, in order.
// Implementations perform a single call; batching lives above them.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
