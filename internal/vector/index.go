// Package vector provides namespaced vector indexing and similarity search.
package vector

import "context"

// Hit is a single similarity search result.
type Hit struct {
	ChunkID string
	Score   float64 // inner product; cosine similarity for normalized vectors
}

// Index is a namespaced nearest-neighbor index keyed by chunk ID.
// Namespaces are tenant boundaries: Query must never return vectors stored
// under a different namespace. Upsert replaces any prior vector under the
// same (namespace, id); Delete of a missing id is not an error.
type Index interface {
	Upsert(ctx context.Context, namespace string, ids []string, vectors [][]float32) error
	Query(ctx context.Context, namespace string, query []float32, k int) ([]*Hit, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	Count(ctx context.Context, namespace string) (int, error)
	Close() error
}
