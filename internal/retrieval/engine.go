// Package retrieval answers tenant-scoped semantic queries over indexed
// chunks.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/deptkb/deptkb/internal/embedding"
	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/models"
	"github.com/deptkb/deptkb/internal/vector"
)

// Engine embeds a query, searches the caller tenant's vector namespace, and
// hydrates hits with chunk text from the metadata store.
type Engine struct {
	embedder embedding.Embedder
	index    vector.Index
	chunks   metastore.ChunkStore
	defaultK int
	maxK     int
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for retrieval events.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a retrieval engine. defaultK is used when the caller
// asks for k <= 0; requests above maxK are clamped.
func NewEngine(embedder embedding.Embedder, index vector.Index, chunks metastore.ChunkStore, defaultK, maxK int, opts ...Option) *Engine {
	if defaultK <= 0 {
		defaultK = 5
	}
	if maxK <= 0 {
		maxK = 50
	}
	e := &Engine{
		embedder: embedder,
		index:    index,
		chunks:   chunks,
		defaultK: defaultK,
		maxK:     maxK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns up to k chunks from tenantID's namespace ranked by
// similarity to query, best first. A tenant with no indexed content gets an
// empty result, not an error. Hits whose metadata rows are missing (a
// partially deleted file, an unreconciled consistency fault) are dropped
// from the result.
func (e *Engine) Retrieve(ctx context.Context, tenantID, query string, k int) ([]*models.RetrievedChunk, error) {
	if k <= 0 {
		k = e.defaultK
	}
	if k > e.maxK {
		k = e.maxK
	}

	vecs, err := e.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for one text", len(vecs))
	}

	hits, err := e.index.Query(ctx, tenantID, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return []*models.RetrievedChunk{}, nil
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		scores[h.ChunkID] = h.Score
	}
	rows, err := e.chunks.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunk metadata: %w", err)
	}
	byID := make(map[string]*models.Chunk, len(rows))
	for _, ch := range rows {
		byID[ch.ID] = ch
	}

	current := e.embedder.ModelVersion()
	results := make([]*models.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		ch, ok := byID[h.ChunkID]
		if !ok {
			e.logger.Warn("dropping hit without metadata",
				zap.String("tenant_id", tenantID),
				zap.String("chunk_id", h.ChunkID),
			)
			continue
		}
		if ch.ModelVersion != current {
			e.logger.Warn("returning chunk embedded with a different model version",
				zap.String("chunk_id", ch.ID),
				zap.String("chunk_model", ch.ModelVersion),
				zap.String("query_model", current),
			)
		}
		results = append(results, &models.RetrievedChunk{
			ChunkID:      ch.ID,
			FileID:       ch.FileID,
			Text:         ch.Text,
			Score:        scores[ch.ID],
			ModelVersion: ch.ModelVersion,
		})
	}
	return results, nil
}
