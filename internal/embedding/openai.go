package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deptkb/deptkb/internal/faults"
)

// OpenAIEmbedder is a client for OpenAI-compatible embedding endpoints
// (POST {base_url}/embeddings). HTTP failures are classified: network
// errors, 408, 429, and 5xx are transient; other 4xx are permanent.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// OpenAIConfig configures the embeddings client.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewOpenAIEmbedder creates a client. Dimensions must match what the model
// produces; the first response is validated against it.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// EmbedBatch embeds texts in a single request. The returned slice is in
// input order regardless of response ordering.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embedRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, faults.Permanent(fmt.Errorf("marshal embed request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.Permanent(fmt.Errorf("build embed request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, faults.Transient(fmt.Errorf("embed request: %w", err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Transient(fmt.Errorf("read embed response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, faults.Transient(fmt.Errorf("parse embed response: %w", err))
	}
	if len(parsed.Data) != len(texts) {
		return nil, faults.Permanentf("embed response has %d vectors for %d inputs", len(parsed.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, faults.Permanentf("embed response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, faults.Permanentf("embedding dimension %d, expected %d", len(d.Embedding), e.dimensions)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, faults.Permanentf("embed response missing vector for input %d", i)
		}
	}
	return out, nil
}

func classifyStatus(status int, body []byte) error {
	msg := string(body)
	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		msg = parsed.Error.Message
	}
	err := fmt.Errorf("embedding service returned %d: %s", status, msg)
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return faults.Transient(err)
	default:
		return faults.Permanent(err)
	}
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ModelVersion returns the model identifier recorded on chunks.
func (e *OpenAIEmbedder) ModelVersion() string { return e.model }

// Close is a no-op for the HTTP client.
func (e *OpenAIEmbedder) Close() error { return nil }
