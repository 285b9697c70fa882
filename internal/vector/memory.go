package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory namespaced vector index using brute-force
// inner product search. Suitable for tests and small deployments.
type MemoryIndex struct {
	dimensions int
	mu         sync.RWMutex
	namespaces map[string]map[string][]float32
}

// NewMemoryIndex creates an in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		namespaces: make(map[string]map[string][]float32),
	}, nil
}

// Upsert stores vectors under (namespace, id), replacing prior entries.
func (m *MemoryIndex) Upsert(ctx context.Context, namespace string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespaces[namespace]
	if ns == nil {
		ns = make(map[string][]float32)
		m.namespaces[namespace] = ns
	}
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		ns[id] = vec
	}
	return nil
}

// Query returns the top-k vectors in the namespace by inner product.
// An unknown namespace yields no hits, not an error.
func (m *MemoryIndex) Query(ctx context.Context, namespace string, query []float32, k int) ([]*Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := m.namespaces[namespace]
	if k <= 0 || len(ns) == 0 {
		return nil, nil
	}
	hits := make([]*Hit, 0, len(ns))
	for id, vec := range ns {
		var dot float64
		for j := 0; j < m.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		hits = append(hits, &Hit{ChunkID: id, Score: dot})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Delete removes ids from the namespace. Missing ids are ignored.
func (m *MemoryIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespaces[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

// Count returns the number of vectors stored in the namespace.
func (m *MemoryIndex) Count(ctx context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace]), nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error { return nil }
