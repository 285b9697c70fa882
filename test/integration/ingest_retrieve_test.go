// Package integration exercises the pipeline and retrieval path together
// with several tenants and documents sharing one set of backends.
package integration

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/models"
	"github.com/deptkb/deptkb/internal/pipeline"
	"github.com/deptkb/deptkb/internal/rawstore"
	"github.com/deptkb/deptkb/internal/retrieval"
	"github.com/deptkb/deptkb/internal/vector"
)

const dims = 2048

// bagEmbedder hashes tokens into a histogram so retrieval ranks by real
// token overlap.
type bagEmbedder struct{}

func (bagEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dims)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[int(h.Sum32())%dims]++
		}
		var sum float64
		for _, v := range vec {
			sum += float64(v * v)
		}
		if sum > 0 {
			norm := 1.0 / math.Sqrt(sum)
			for j := range vec {
				vec[j] *= float32(norm)
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (bagEmbedder) Dimensions() int      { return dims }
func (bagEmbedder) ModelVersion() string { return "bag-v1" }
func (bagEmbedder) Close() error         { return nil }

type env struct {
	raw    rawstore.Store
	store  metastore.Store
	index  *vector.MemoryIndex
	coord  *pipeline.Coordinator
	engine *retrieval.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	raw, err := rawstore.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := metastore.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	index, err := vector.NewMemoryIndex(dims)
	if err != nil {
		t.Fatal(err)
	}
	coord, err := pipeline.NewCoordinator(raw, store, bagEmbedder{}, index, pipeline.Config{
		Workers:       4,
		MaxAttempts:   2,
		RetryBase:     time.Millisecond,
		RetryCap:      2 * time.Millisecond,
		TargetTokens:  80,
		OverlapTokens: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(coord.Release)

	engine := retrieval.NewEngine(bagEmbedder{}, index, store, 5, 50)
	return &env{raw: raw, store: store, index: index, coord: coord, engine: engine}
}

func (e *env) ingest(t *testing.T, tenantID, text string) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{
		FileID:      uuid.NewString(),
		TenantID:    tenantID,
		Filename:    "doc.txt",
		ContentType: "text/plain",
		SizeBytes:   int64(len(text)),
		CreatedAt:   time.Now().UTC(),
	}
	doc.StorageKey = rawstore.Key(tenantID, doc.FileID)
	if err := e.raw.Put(ctx, doc.StorageKey, bytes.NewReader([]byte(text)), doc.SizeBytes, doc.ContentType); err != nil {
		t.Fatal(err)
	}
	if err := e.store.PutDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := e.coord.Enqueue(ctx, doc); err != nil {
		t.Fatal(err)
	}
	return doc
}

func (e *env) waitAll(t *testing.T, docs []*models.Document) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for _, doc := range docs {
		for {
			if time.Now().After(deadline) {
				t.Fatalf("file %s never completed", doc.FileID)
			}
			st, err := e.store.GetStatus(context.Background(), doc.FileID)
			if err != nil {
				t.Fatal(err)
			}
			if st.State == models.StateCompleted {
				break
			}
			if st.State == models.StateFailed {
				t.Fatalf("file %s failed: %s", doc.FileID, st.ErrorDetail)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// topic builds a small document about one subject with a distinctive phrase.
func topic(phrase, filler string) string {
	var b strings.Builder
	b.WriteString(phrase + "\n\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "%s paragraph %d covers routine material\n\n", filler, i)
	}
	return b.String()
}

func TestConcurrentIngestAcrossTenants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	type entry struct {
		tenant string
		phrase string
		doc    *models.Document
	}
	entries := []*entry{
		{tenant: "eng", phrase: "incident postmortem template for severity one outages"},
		{tenant: "eng", phrase: "kubernetes cluster upgrade runbook with drain procedure"},
		{tenant: "legal", phrase: "vendor contract renewal checklist with indemnity clauses"},
		{tenant: "legal", phrase: "data retention policy for customer records"},
		{tenant: "hr", phrase: "parental leave eligibility and payroll coordination"},
	}
	var docs []*models.Document
	for i, en := range entries {
		en.doc = e.ingest(t, en.tenant, topic(en.phrase, fmt.Sprintf("dept%d", i)))
		docs = append(docs, en.doc)
	}
	e.waitAll(t, docs)

	for _, en := range entries {
		results, err := e.engine.Retrieve(ctx, en.tenant, en.phrase, 3)
		if err != nil {
			t.Fatalf("retrieve %q: %v", en.phrase, err)
		}
		if len(results) == 0 {
			t.Fatalf("no results for %q in tenant %s", en.phrase, en.tenant)
		}
		if results[0].FileID != en.doc.FileID {
			t.Errorf("query %q: top hit from file %s, want %s", en.phrase, results[0].FileID, en.doc.FileID)
		}
	}

	// A phrase indexed for eng must not be visible to hr.
	results, err := e.engine.Retrieve(ctx, "hr", "kubernetes cluster upgrade runbook", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		for _, en := range entries {
			if en.tenant != "hr" && r.FileID == en.doc.FileID {
				t.Fatalf("hr query returned %s owned by tenant %s", r.FileID, en.tenant)
			}
		}
	}
}

func TestDeleteOneDocumentKeepsTheRest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	keep := e.ingest(t, "eng", topic("service mesh migration notes", "keep"))
	drop := e.ingest(t, "eng", topic("deprecated monolith teardown plan", "drop"))
	e.waitAll(t, []*models.Document{keep, drop})

	if err := e.coord.Delete(ctx, drop.FileID); err != nil {
		t.Fatal(err)
	}

	results, err := e.engine.Retrieve(ctx, "eng", "service mesh migration notes", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("surviving document no longer retrievable")
	}
	for _, r := range results {
		if r.FileID == drop.FileID {
			t.Fatalf("deleted document %s still retrievable", drop.FileID)
		}
	}

	chunks, err := e.store.ChunksByFile(ctx, drop.FileID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Fatalf("deleted document kept %d chunk rows", len(chunks))
	}
}
