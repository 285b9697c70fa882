// Package e2e provides end-to-end tests driving the full ingestion pipeline
// and retrieval path against in-process backends.
package e2e

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// wordHashEmbedder embeds text as a normalized bag-of-words histogram:
// each token hashes to a dimension bucket. Texts sharing tokens get
// genuinely similar vectors, so retrieval ranking is meaningful without a
// real embedding service.
type wordHashEmbedder struct {
	dimensions int
}

func newWordHashEmbedder(dimensions int) *wordHashEmbedder {
	return &wordHashEmbedder{dimensions: dimensions}
}

func (e *wordHashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *wordHashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%e.dimensions]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range vec {
			vec[i] *= float32(norm)
		}
	}
	return vec
}

func (e *wordHashEmbedder) Dimensions() int      { return e.dimensions }
func (e *wordHashEmbedder) ModelVersion() string { return "word-hash-v1" }
func (e *wordHashEmbedder) Close() error         { return nil }
