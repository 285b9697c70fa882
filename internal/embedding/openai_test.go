package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deptkb/deptkb/internal/faults"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) *OpenAIEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Dimensions: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestOpenAIEmbedBatch(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Respond out of order to verify index-based reassembly.
		fmt.Fprintf(w, `{"data":[{"index":1,"embedding":[0.4,0.5,0.6]},{"index":0,"embedding":[0.1,0.2,0.3]}]}`)
	})
	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.4 {
		t.Errorf("vectors not reordered by index: %v", vecs)
	}
}

func TestOpenAIRateLimitIsTransient(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit","type":"rate_limit"}}`)
	})
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if faults.KindOf(err) != faults.KindTransient {
		t.Errorf("429 should be transient, got %v", faults.KindOf(err))
	}
}

func TestOpenAIServerErrorIsTransient(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	if faults.KindOf(err) != faults.KindTransient {
		t.Errorf("502 should be transient, got %v", faults.KindOf(err))
	}
}

func TestOpenAIBadRequestIsPermanent(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"input too long","type":"invalid_request_error"}}`)
	})
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	if faults.KindOf(err) != faults.KindPermanent {
		t.Errorf("400 should be permanent, got %v", faults.KindOf(err))
	}
}

func TestOpenAIDimensionMismatchIsPermanent(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1,0.2]}]}`)
	})
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	if faults.KindOf(err) != faults.KindPermanent {
		t.Errorf("dimension mismatch should be permanent, got %v", faults.KindOf(err))
	}
}

func TestOpenAIEmptyBatch(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	})
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("empty batch: vecs=%v err=%v", vecs, err)
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(8)
	a, err := e.EmbedBatch(context.Background(), []string{"same text"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.EmbedBatch(context.Background(), []string{"same text"})
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("mock embedder should be deterministic")
		}
	}
	if e.Dimensions() != 8 {
		t.Errorf("dimensions = %d", e.Dimensions())
	}
}
