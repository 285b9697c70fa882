// Package models defines core data structures for documents, chunks, and ingestion state.
package models

import "time"

// Document represents one uploaded file owned by a tenant.
type Document struct {
	FileID      string    `json:"file_id" db:"file_id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Filename    string    `json:"filename" db:"filename"`
	ContentType string    `json:"content_type" db:"content_type"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	StorageKey  string    `json:"storage_key" db:"storage_key"`
	UploadedBy  string    `json:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Chunk is an immutable text segment derived from exactly one document.
// TenantID is denormalized from the owning document; it is the vector
// namespace the chunk's embedding lives under.
type Chunk struct {
	ID           string    `json:"id" db:"id"`
	FileID       string    `json:"file_id" db:"file_id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Text         string    `json:"text" db:"text"`
	TokenCount   int       `json:"token_count" db:"token_count"`
	ModelVersion string    `json:"model_version" db:"model_version"`
	Seq          int       `json:"seq" db:"seq"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// RetrievedChunk is a single retrieval hit returned to the caller.
type RetrievedChunk struct {
	ChunkID      string  `json:"chunk_id"`
	FileID       string  `json:"file_id"`
	Text         string  `json:"chunk_text"`
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version,omitempty"`
}

// IngestionStatus is the per-file pipeline state machine instance.
// Exactly one live record exists per file; a re-index replaces it.
type IngestionStatus struct {
	FileID        string    `json:"file_id" db:"file_id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	State         State     `json:"status" db:"state"`
	ChunksCreated int       `json:"chunks_created,omitempty" db:"chunks_created"`
	ErrorDetail   string    `json:"error_detail,omitempty" db:"error_detail"`
	Attempts      int       `json:"-" db:"attempts"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
