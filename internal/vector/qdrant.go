package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deptkb/deptkb/internal/faults"
)

// statusError carries the HTTP status of a failed Qdrant call so callers
// can branch on the code instead of scraping the message.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// httpStatus returns the HTTP status carried by err, or 0 if err did not
// come from a Qdrant response.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

// QdrantIndex is a REST client to Qdrant. Each namespace maps to its own
// collection named {prefix}{namespace}, so tenant isolation is structural:
// a query can only ever touch one tenant's collection. Cosine distance is
// assumed; collections are created on first write.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	prefix     string
	dimensions int
	client     *http.Client

	mu      sync.Mutex
	created map[string]bool
}

// QdrantConfig configures the Qdrant client.
type QdrantConfig struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	Dimensions       int
	Timeout          time.Duration
}

// NewQdrantIndex creates a Qdrant-backed index.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant URL required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantIndex{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		prefix:     cfg.CollectionPrefix,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
		created:    make(map[string]bool),
	}, nil
}

func (q *QdrantIndex) collection(namespace string) string {
	return q.prefix + namespace
}

// ensureCollection creates the namespace's collection if this process has
// not seen it yet. Qdrant returns OK for an existing collection with the
// same schema, so the call is idempotent.
func (q *QdrantIndex) ensureCollection(ctx context.Context, namespace string) error {
	q.mu.Lock()
	seen := q.created[namespace]
	q.mu.Unlock()
	if seen {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimensions,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, "/collections/"+q.collection(namespace), body, nil); err != nil {
		// 409 means another writer created it concurrently.
		if httpStatus(err) != http.StatusConflict {
			return err
		}
	}
	q.mu.Lock()
	q.created[namespace] = true
	q.mu.Unlock()
	return nil
}

// Upsert stores vectors under (namespace, id). Re-upserting an id replaces
// the prior point.
func (q *QdrantIndex) Upsert(ctx context.Context, namespace string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, namespace); err != nil {
		return err
	}
	points := make([]map[string]any, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), q.dimensions)
		}
		points[i] = map[string]any{
			"id":      id,
			"vector":  vectors[i],
			"payload": map[string]any{"chunk_id": id},
		}
	}
	body := map[string]any{"points": points}
	return q.do(ctx, http.MethodPut, "/collections/"+q.collection(namespace)+"/points?wait=true", body, nil)
}

// Query searches the namespace's collection. A missing collection (tenant
// with no vectors yet) yields no hits.
func (q *QdrantIndex) Query(ctx context.Context, namespace string, query []float32, k int) ([]*Hit, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), q.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": false,
	}
	var resp struct {
		Result []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, "/collections/"+q.collection(namespace)+"/points/search", req, &resp)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	hits := make([]*Hit, len(resp.Result))
	for i, r := range resp.Result {
		hits[i] = &Hit{ChunkID: r.ID, Score: r.Score}
	}
	return hits, nil
}

// Delete removes points by id. Missing ids and missing collections are not
// errors.
func (q *QdrantIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	err := q.do(ctx, http.MethodPost, "/collections/"+q.collection(namespace)+"/points/delete?wait=true", body, nil)
	if err != nil && httpStatus(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// Count returns the exact number of points in the namespace's collection.
func (q *QdrantIndex) Count(ctx context.Context, namespace string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, "/collections/"+q.collection(namespace)+"/points/count", map[string]any{"exact": true}, &resp)
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return 0, nil
		}
		return 0, err
	}
	return resp.Result.Count, nil
}

// Close is a no-op for the REST client.
func (q *QdrantIndex) Close() error { return nil }

// do issues one JSON request. Network errors and 5xx are classified
// transient; 4xx are permanent. HTTP failures carry a statusError so
// callers can special-case 404/409 via httpStatus.
func (q *QdrantIndex) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return faults.Permanent(fmt.Errorf("marshal qdrant request: %w", err))
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, rd)
	if err != nil {
		return faults.Permanent(fmt.Errorf("build qdrant request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return faults.Transient(fmt.Errorf("qdrant %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return faults.Transient(fmt.Errorf("read qdrant response: %w", err))
	}
	if resp.StatusCode >= 300 {
		err := &statusError{
			code: resp.StatusCode,
			msg:  fmt.Sprintf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200)),
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return faults.Transient(err)
		}
		return faults.Permanent(err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return faults.Transient(fmt.Errorf("parse qdrant response: %w", err))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
