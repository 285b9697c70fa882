package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/models"
)

// ErrNotFound is returned by Delete and Reindex when no document exists
// under the given file ID.
var ErrNotFound = errors.New("document not found")

// Delete removes every trace of a file: vectors, chunk rows, status,
// document record, and the raw object, in that order. A pipeline still
// running for the file is flagged to abort and drained before any state
// is removed, so a finished Delete cannot be undone by a late stage
// write. Every step is idempotent, so a partially failed delete can
// simply be re-issued.
func (c *Coordinator) Delete(ctx context.Context, fileID string) error {
	doc, err := c.store.GetDocument(ctx, fileID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load document: %w", err)
	}
	c.markCancelled(fileID)
	if err := c.waitInflight(ctx, fileID); err != nil {
		return fmt.Errorf("drain running pipeline: %w", err)
	}

	if err := c.deleteDerived(ctx, doc); err != nil {
		return err
	}
	if err := c.store.DeleteStatus(ctx, fileID); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	if err := c.store.DeleteDocument(ctx, fileID); err != nil {
		return fmt.Errorf("delete document record: %w", err)
	}
	if _, err := retryWithBackoff(ctx, func() error {
		return c.callWithTimeout(ctx, func(cctx context.Context) error {
			return c.raw.Delete(cctx, doc.StorageKey)
		})
	}, c.cfg.MaxAttempts, c.cfg.RetryBase, c.cfg.RetryCap); err != nil {
		return fmt.Errorf("delete raw object: %w", err)
	}

	c.clearCancelled(fileID)
	c.logger.Info("document deleted",
		zap.String("file_id", fileID),
		zap.String("tenant_id", doc.TenantID),
	)
	return nil
}

// deleteDerived removes vectors and chunk rows for a document, leaving the
// raw object, document record, and status intact.
func (c *Coordinator) deleteDerived(ctx context.Context, doc *models.Document) error {
	chunks, err := c.store.ChunksByFile(ctx, doc.FileID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
		}
		if _, err := retryWithBackoff(ctx, func() error {
			return c.callWithTimeout(ctx, func(cctx context.Context) error {
				return c.index.Delete(cctx, doc.TenantID, ids)
			})
		}, c.cfg.MaxAttempts, c.cfg.RetryBase, c.cfg.RetryCap); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}
	if err := c.store.DeleteChunksByFile(ctx, doc.FileID); err != nil {
		return fmt.Errorf("delete chunk rows: %w", err)
	}
	return nil
}

// Reindex drops a file's derived state (vectors and chunk rows) but keeps
// the raw object and document record, then schedules a fresh ingestion run.
// The old status row is replaced by the new Queued row, so the file always
// has exactly one live status record.
func (c *Coordinator) Reindex(ctx context.Context, fileID string) error {
	doc, err := c.store.GetDocument(ctx, fileID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load document: %w", err)
	}
	c.markCancelled(fileID)
	if err := c.waitInflight(ctx, fileID); err != nil {
		return fmt.Errorf("drain running pipeline: %w", err)
	}

	if err := c.deleteDerived(ctx, doc); err != nil {
		return err
	}

	c.logger.Info("re-index scheduled",
		zap.String("file_id", fileID),
		zap.String("tenant_id", doc.TenantID),
	)
	return c.Enqueue(ctx, doc)
}
