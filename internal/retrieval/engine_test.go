package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/deptkb/deptkb/internal/embedding"
	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/models"
	"github.com/deptkb/deptkb/internal/vector"
)

func setup(t *testing.T) (*Engine, *metastore.SQLiteStore, *vector.MemoryIndex, *embedding.MockEmbedder) {
	t.Helper()
	embedder := embedding.NewMockEmbedder(64)
	index, err := vector.NewMemoryIndex(embedder.Dimensions())
	if err != nil {
		t.Fatalf("memory index: %v", err)
	}
	store, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(embedder, index, store, 5, 50), store, index, embedder
}

func indexChunk(t *testing.T, store *metastore.SQLiteStore, index *vector.MemoryIndex, embedder *embedding.MockEmbedder, tenantID, id, text string) {
	t.Helper()
	ctx := context.Background()
	ch := &models.Chunk{
		ID:           id,
		FileID:       "file-" + tenantID,
		TenantID:     tenantID,
		Text:         text,
		TokenCount:   1,
		ModelVersion: embedder.ModelVersion(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.PutChunks(ctx, []*models.Chunk{ch}); err != nil {
		t.Fatalf("put chunk: %v", err)
	}
	vecs, err := embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := index.Upsert(ctx, tenantID, []string{id}, vecs); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestRetrieveExactTextRanksFirst(t *testing.T) {
	engine, store, index, embedder := setup(t)
	indexChunk(t, store, index, embedder, "tenant-a", "c1", "quarterly revenue grew by twelve percent")
	indexChunk(t, store, index, embedder, "tenant-a", "c2", "the office cafeteria menu changed on monday")

	results, err := engine.Retrieve(context.Background(), "tenant-a", "quarterly revenue grew by twelve percent", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("expected c1 ranked first, got %s", results[0].ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not ordered by score: %f < %f", results[0].Score, results[1].Score)
	}
	if results[0].Text != "quarterly revenue grew by twelve percent" {
		t.Errorf("hit not hydrated with chunk text: %q", results[0].Text)
	}
}

func TestRetrieveNeverCrossesTenants(t *testing.T) {
	engine, store, index, embedder := setup(t)
	indexChunk(t, store, index, embedder, "tenant-a", "a1", "shared onboarding checklist")
	indexChunk(t, store, index, embedder, "tenant-b", "b1", "shared onboarding checklist")

	results, err := engine.Retrieve(context.Background(), "tenant-a", "onboarding checklist", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, r := range results {
		if r.ChunkID == "b1" {
			t.Fatal("retrieved a chunk belonging to another tenant")
		}
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly tenant-a's chunk, got %d results", len(results))
	}
}

func TestRetrieveEmptyTenant(t *testing.T) {
	engine, _, _, _ := setup(t)
	results, err := engine.Retrieve(context.Background(), "tenant-without-content", "anything", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result, got %d", len(results))
	}
}

func TestRetrieveClampsK(t *testing.T) {
	engine, store, index, embedder := setup(t)
	for _, id := range []string{"k1", "k2", "k3"} {
		indexChunk(t, store, index, embedder, "tenant-a", id, "text for "+id)
	}

	results, err := engine.Retrieve(context.Background(), "tenant-a", "text", 2)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected k=2 results, got %d", len(results))
	}

	// k <= 0 falls back to the default.
	results, err = engine.Retrieve(context.Background(), "tenant-a", "text", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected all 3 results under default k, got %d", len(results))
	}
}

func TestRetrieveDropsHitsWithoutMetadata(t *testing.T) {
	engine, store, index, embedder := setup(t)
	indexChunk(t, store, index, embedder, "tenant-a", "kept", "a chunk with a metadata row")

	// Vector present, metadata row missing.
	vecs, err := embedder.EmbedBatch(context.Background(), []string{"an orphaned vector"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := index.Upsert(context.Background(), "tenant-a", []string{"orphan"}, vecs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := engine.Retrieve(context.Background(), "tenant-a", "chunk", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, r := range results {
		if r.ChunkID == "orphan" {
			t.Fatal("orphaned vector surfaced in results")
		}
	}
	if len(results) != 1 {
		t.Fatalf("expected only the hydrated hit, got %d", len(results))
	}
}
