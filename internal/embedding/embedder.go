// Package embedding provides text embedding via an external embedding service.
package embedding

import "context"

// Embedder produces fixed-dimension vector embeddings for text.
// EmbedBatch errors are classified through the faults package: transient
// (timeouts, rate limits, 5xx) are retryable by the caller, permanent
// (malformed input, quota exhausted) are not. Callers are responsible for
// sub-batching to the provider's request limits.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelVersion() string
	Close() error
}
