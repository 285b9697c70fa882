package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deptkb/deptkb/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not
// exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		file_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		storage_key TEXT NOT NULL,
		uploaded_by TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		model_version TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_file_seq ON chunks(file_id, seq);

	CREATE TABLE IF NOT EXISTS ingestion_statuses (
		file_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		state TEXT NOT NULL,
		chunks_created INTEGER NOT NULL DEFAULT 0,
		error_detail TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		reason TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_file ON dead_letters(file_id);
	`
	_, err := db.Exec(schema)
	return err
}

// PutDocument inserts or replaces a document record.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (file_id, tenant_id, filename, content_type, size_bytes, storage_key, uploaded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.FileID, doc.TenantID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.StorageKey, doc.UploadedBy, doc.CreatedAt,
	)
	return err
}

// GetDocument returns a document by file id.
func (s *SQLiteStore) GetDocument(ctx context.Context, fileID string) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, tenant_id, filename, content_type, size_bytes, storage_key, uploaded_by, created_at
		 FROM documents WHERE file_id = ?`, fileID,
	).Scan(&doc.FileID, &doc.TenantID, &doc.Filename, &doc.ContentType, &doc.SizeBytes, &doc.StorageKey, &doc.UploadedBy, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document row. Missing rows are not an error.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE file_id = ?`, fileID)
	return err
}

// CountDocuments returns the number of document rows.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// PutChunks upserts chunk rows in one transaction so a retried pipeline
// stage never duplicates rows.
func (s *SQLiteStore) PutChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, file_id, tenant_id, text, token_count, model_version, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ch := range chunks {
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.FileID, ch.TenantID, ch.Text, ch.TokenCount, ch.ModelVersion, ch.Seq, ch.CreatedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ChunksByFile returns all chunks for a file ordered by sequence.
func (s *SQLiteStore) ChunksByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_id, tenant_id, text, token_count, model_version, seq, created_at
		 FROM chunks WHERE file_id = ? ORDER BY seq`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksByIDs returns the chunks matching ids; missing ids are simply
// absent from the result.
func (s *SQLiteStore) ChunksByIDs(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	//nolint:gosec // placeholders are generated, values are bound
	query := `SELECT id, file_id, tenant_id, text, token_count, model_version, seq, created_at
		 FROM chunks WHERE id IN (` + placeholders + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.ID, &ch.FileID, &ch.TenantID, &ch.Text, &ch.TokenCount, &ch.ModelVersion, &ch.Seq, &ch.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &ch)
	}
	return chunks, rows.Err()
}

// DeleteChunksByFile removes all chunk rows for a file.
func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	return err
}

// CountChunks returns the number of chunk rows.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// PutStatus inserts or replaces the live status row for a file.
func (s *SQLiteStore) PutStatus(ctx context.Context, st *models.IngestionStatus) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ingestion_statuses (file_id, tenant_id, state, chunks_created, error_detail, attempts, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.FileID, st.TenantID, st.State, st.ChunksCreated, st.ErrorDetail, st.Attempts, st.UpdatedAt,
	)
	return err
}

// GetStatus returns the live status row for a file.
func (s *SQLiteStore) GetStatus(ctx context.Context, fileID string) (*models.IngestionStatus, error) {
	var st models.IngestionStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, tenant_id, state, chunks_created, error_detail, attempts, updated_at
		 FROM ingestion_statuses WHERE file_id = ?`, fileID,
	).Scan(&st.FileID, &st.TenantID, &st.State, &st.ChunksCreated, &st.ErrorDetail, &st.Attempts, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SetState advances the state machine for a file, enforcing monotonic
// transitions. Illegal transitions return an error and leave the row
// unchanged.
func (s *SQLiteStore) SetState(ctx context.Context, fileID string, state models.State) error {
	cur, err := s.GetStatus(ctx, fileID)
	if err != nil {
		return err
	}
	if !cur.State.CanAdvanceTo(state) {
		return fmt.Errorf("illegal transition %s -> %s for file %s", cur.State, state, fileID)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ingestion_statuses SET state = ?, updated_at = ? WHERE file_id = ?`,
		state, time.Now().UTC(), fileID)
	return err
}

// SetChunksCreated records the chunk count once known.
func (s *SQLiteStore) SetChunksCreated(ctx context.Context, fileID string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_statuses SET chunks_created = ?, updated_at = ? WHERE file_id = ?`,
		n, time.Now().UTC(), fileID)
	return err
}

// SetAttempts records the retry count for the current stage.
func (s *SQLiteStore) SetAttempts(ctx context.Context, fileID string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_statuses SET attempts = ?, updated_at = ? WHERE file_id = ?`,
		n, time.Now().UTC(), fileID)
	return err
}

// MarkFailed moves a file to the terminal Failed state with a user-facing
// detail message. Already-terminal rows are left as they are.
func (s *SQLiteStore) MarkFailed(ctx context.Context, fileID string, detail string) error {
	cur, err := s.GetStatus(ctx, fileID)
	if err != nil {
		return err
	}
	if cur.State.Terminal() {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ingestion_statuses SET state = ?, error_detail = ?, updated_at = ? WHERE file_id = ?`,
		models.StateFailed, detail, time.Now().UTC(), fileID)
	return err
}

// DeleteStatus removes the status row for a file.
func (s *SQLiteStore) DeleteStatus(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ingestion_statuses WHERE file_id = ?`, fileID)
	return err
}

// PushDeadLetter appends a dead letter row.
func (s *SQLiteStore) PushDeadLetter(ctx context.Context, dl *DeadLetter) error {
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, file_id, tenant_id, stage, reason, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.FileID, dl.TenantID, dl.Stage, dl.Reason, dl.Detail, dl.CreatedAt,
	)
	return err
}

// ListDeadLetters returns the most recent dead letters.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_id, tenant_id, stage, reason, detail, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.FileID, &dl.TenantID, &dl.Stage, &dl.Reason, &dl.Detail, &dl.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &dl)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
