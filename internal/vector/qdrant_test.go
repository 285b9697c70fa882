package vector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/deptkb/deptkb/internal/faults"
)

func newQdrantTest(t *testing.T, handler http.Handler) *QdrantIndex {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	q, err := NewQdrantIndex(QdrantConfig{URL: srv.URL, Dimensions: 2})
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func TestQdrantMissingCollectionIsEmpty(t *testing.T) {
	// The body mentions other status codes; only the response status may
	// decide how the error is handled.
	q := newQdrantTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":{"error":"collection not found, see error codes 409 and 500"}}`))
	}))
	ctx := context.Background()

	hits, err := q.Query(ctx, "ghost", unit(1, 0), 5)
	if err != nil {
		t.Fatalf("missing collection should not error on query: %v", err)
	}
	if hits != nil {
		t.Errorf("expected no hits, got %v", hits)
	}

	n, err := q.Count(ctx, "ghost")
	if err != nil || n != 0 {
		t.Errorf("count on missing collection = %d, %v", n, err)
	}

	if err := q.Delete(ctx, "ghost", []string{"a"}); err != nil {
		t.Errorf("delete on missing collection: %v", err)
	}
}

func TestQdrantServerErrorNotMistakenForMissing(t *testing.T) {
	q := newQdrantTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":{"error":"wal segment 404 corrupt"}}`))
	}))

	_, err := q.Query(context.Background(), "hr", unit(1, 0), 5)
	if err == nil {
		t.Fatal("a 500 must surface as an error even when the body mentions 404")
	}
	if !faults.Retryable(err) {
		t.Error("5xx should classify transient")
	}
	if httpStatus(err) != http.StatusInternalServerError {
		t.Errorf("status = %d", httpStatus(err))
	}
}

func TestQdrantConcurrentCreateTolerated(t *testing.T) {
	var upserts atomic.Int32
	q := newQdrantTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && !strings.Contains(r.URL.Path, "/points") {
			// Another writer won the create race.
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"status":{"error":"already exists"}}`))
			return
		}
		upserts.Add(1)
		w.Write([]byte(`{"result":{"status":"acknowledged"}}`))
	}))

	err := q.Upsert(context.Background(), "hr", []string{"a"}, [][]float32{unit(1, 0)})
	if err != nil {
		t.Fatalf("upsert after create conflict: %v", err)
	}
	if upserts.Load() != 1 {
		t.Errorf("points written %d times", upserts.Load())
	}
}

func TestQdrantClientErrorPermanent(t *testing.T) {
	q := newQdrantTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":{"error":"bad vector"}}`))
	}))

	err := q.Upsert(context.Background(), "hr", []string{"a"}, [][]float32{unit(1, 0)})
	if err == nil {
		t.Fatal("expected error")
	}
	if faults.Retryable(err) {
		t.Error("4xx should not be retryable")
	}
	if httpStatus(err) != http.StatusBadRequest {
		t.Errorf("status = %d", httpStatus(err))
	}
}
