// Package metastore defines durable persistence for documents, chunk
// metadata, ingestion status, and dead letters.
package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/deptkb/deptkb/internal/models"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// DocumentStore persists uploaded document records.
type DocumentStore interface {
	PutDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, fileID string) (*models.Document, error)
	DeleteDocument(ctx context.Context, fileID string) error
	CountDocuments(ctx context.Context) (int64, error)
}

// ChunkStore persists chunk text and provenance. PutChunks is an upsert so
// pipeline retries never duplicate rows.
type ChunkStore interface {
	PutChunks(ctx context.Context, chunks []*models.Chunk) error
	ChunksByFile(ctx context.Context, fileID string) ([]*models.Chunk, error)
	ChunksByIDs(ctx context.Context, ids []string) ([]*models.Chunk, error)
	DeleteChunksByFile(ctx context.Context, fileID string) error
	CountChunks(ctx context.Context) (int64, error)
}

// StatusStore tracks the per-file ingestion state machine. Exactly one live
// row exists per file; PutStatus replaces any prior row.
type StatusStore interface {
	PutStatus(ctx context.Context, st *models.IngestionStatus) error
	GetStatus(ctx context.Context, fileID string) (*models.IngestionStatus, error)
	SetState(ctx context.Context, fileID string, state models.State) error
	SetChunksCreated(ctx context.Context, fileID string, n int) error
	SetAttempts(ctx context.Context, fileID string, n int) error
	MarkFailed(ctx context.Context, fileID string, detail string) error
	DeleteStatus(ctx context.Context, fileID string) error
}

// DeadLetter is a durable record of an unrecoverable pipeline failure,
// retained for operator follow-up. Detail carries reconciliation data
// (which chunk ids succeeded on which side) as JSON.
type DeadLetter struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	TenantID  string    `json:"tenant_id"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeadLetterStore persists dead letters.
type DeadLetterStore interface {
	PushDeadLetter(ctx context.Context, dl *DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)
}

// Store is the full persistence surface backing the pipeline and server.
type Store interface {
	DocumentStore
	ChunkStore
	StatusStore
	DeadLetterStore
	Close() error
}
