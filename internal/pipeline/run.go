package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deptkb/deptkb/internal/extract"
	"github.com/deptkb/deptkb/internal/faults"
	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/models"
	"github.com/deptkb/deptkb/internal/rawstore"
)

// Enqueue registers a freshly uploaded document and schedules its ingestion
// pipeline. The status record is written synchronously so a status poll
// issued right after the upload response sees Queued; the pipeline itself
// runs on the worker pool.
func (c *Coordinator) Enqueue(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if err := c.store.PutStatus(ctx, &models.IngestionStatus{
		FileID:    doc.FileID,
		TenantID:  doc.TenantID,
		State:     models.StateQueued,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("record queued status: %w", err)
	}
	c.clearCancelled(doc.FileID)

	d := *doc
	done := c.beginRun(doc.FileID)
	c.wg.Add(1)
	if err := c.pipePool.Submit(func() {
		defer c.wg.Done()
		defer c.endRun(d.FileID, done)
		c.run(&d)
	}); err != nil {
		c.endRun(d.FileID, done)
		c.wg.Done()
		return fmt.Errorf("submit pipeline: %w", err)
	}
	return nil
}

// errCancelled aborts a run whose file was flagged for deletion or
// re-index. It is never reported as a failure; the canceller owns the
// file's state from here on.
var errCancelled = errors.New("ingestion cancelled")

// run drives one document through the full stage sequence. It never returns
// an error; terminal outcomes are recorded in the status store and, for
// unrecoverable infrastructure or consistency failures, the dead-letter
// store.
func (c *Coordinator) run(doc *models.Document) {
	ctx := context.Background()
	log := c.logger.With(
		zap.String("file_id", doc.FileID),
		zap.String("tenant_id", doc.TenantID),
	)
	start := time.Now()

	text, err := c.stageExtract(ctx, doc)
	if err != nil {
		c.fail(ctx, doc, models.StateExtracting, err, nil)
		return
	}
	if c.isCancelled(doc.FileID) {
		log.Info("pipeline cancelled after extract")
		return
	}

	chunks, err := c.stageChunk(ctx, doc, text)
	if err != nil {
		c.fail(ctx, doc, models.StateChunking, err, nil)
		return
	}
	if c.isCancelled(doc.FileID) {
		log.Info("pipeline cancelled after chunking")
		return
	}

	vectors, err := c.stageEmbed(ctx, doc, chunks)
	if err != nil {
		if errors.Is(err, errCancelled) {
			log.Info("pipeline cancelled during embedding")
			return
		}
		c.fail(ctx, doc, models.StateEmbedding, err, nil)
		return
	}
	if c.isCancelled(doc.FileID) {
		log.Info("pipeline cancelled after embedding")
		return
	}

	indexed, err := c.stageIndex(ctx, doc, chunks, vectors)
	if err != nil {
		if errors.Is(err, errCancelled) {
			// Chunk rows were never written, so the canceller cannot
			// enumerate these vectors. Remove them here, before the
			// canceller is unblocked.
			c.removeIndexed(ctx, doc, indexed)
			log.Info("pipeline cancelled during indexing")
			return
		}
		c.fail(ctx, doc, models.StateIndexing, err, indexed)
		return
	}

	if err := c.store.SetState(ctx, doc.FileID, models.StateCompleted); err != nil {
		log.Error("finalize status", zap.Error(err))
		return
	}
	log.Info("ingestion completed",
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// stageExtract fetches the raw object and extracts plain text. Raw fetch
// failures are retried; extraction itself is pure, so a parse failure is
// final.
func (c *Coordinator) stageExtract(ctx context.Context, doc *models.Document) (string, error) {
	if err := c.store.SetState(ctx, doc.FileID, models.StateExtracting); err != nil {
		return "", fmt.Errorf("enter extracting: %w", err)
	}

	var content []byte
	attempts, err := retryWithBackoff(ctx, func() error {
		return c.callWithTimeout(ctx, func(cctx context.Context) error {
			rc, err := c.raw.Get(cctx, doc.StorageKey)
			if err != nil {
				if errors.Is(err, rawstore.ErrNotFound) {
					return faults.Permanent(fmt.Errorf("raw object missing: %w", err))
				}
				return err
			}
			defer rc.Close()
			content, err = io.ReadAll(rc)
			return err
		})
	}, c.cfg.MaxAttempts, c.cfg.RetryBase, c.cfg.RetryCap)
	c.recordAttempts(ctx, doc.FileID, attempts)
	if err != nil {
		return "", fmt.Errorf("fetch raw object: %w", err)
	}

	text, err := extract.Extract(content, doc.ContentType)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", doc.Filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", faults.Permanentf("no extractable text in %s", doc.Filename)
	}
	return text, nil
}

// stageChunk splits extracted text and assigns chunk identity. Chunking is
// deterministic for a given text, but chunk IDs are minted fresh per run;
// a retried run replaces the previous run's rows wholesale, so stale IDs
// never survive.
func (c *Coordinator) stageChunk(ctx context.Context, doc *models.Document, text string) ([]*models.Chunk, error) {
	if err := c.store.SetState(ctx, doc.FileID, models.StateChunking); err != nil {
		return nil, fmt.Errorf("enter chunking: %w", err)
	}

	pieces := c.chunker.Chunk(text)
	if len(pieces) == 0 {
		return nil, faults.Permanentf("chunking produced no segments for %s", doc.Filename)
	}

	now := time.Now().UTC()
	chunks := make([]*models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &models.Chunk{
			ID:           uuid.NewString(),
			FileID:       doc.FileID,
			TenantID:     doc.TenantID,
			Text:         p.Text,
			TokenCount:   p.TokenCount,
			ModelVersion: c.embedder.ModelVersion(),
			Seq:          i,
			CreatedAt:    now,
		}
	}

	if err := c.store.SetChunksCreated(ctx, doc.FileID, len(chunks)); err != nil {
		return nil, fmt.Errorf("record chunk count: %w", err)
	}
	return chunks, nil
}

// stageEmbed produces one vector per chunk, embedding sub-batches in
// parallel on the batch pool. The first batch failure wins; remaining
// batches still run to completion but their results are discarded.
func (c *Coordinator) stageEmbed(ctx context.Context, doc *models.Document, chunks []*models.Chunk) ([][]float32, error) {
	if err := c.store.SetState(ctx, doc.FileID, models.StateEmbedding); err != nil {
		return nil, fmt.Errorf("enter embedding: %w", err)
	}

	vectors := make([][]float32, len(chunks))
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		firstErr    error
		maxAttempts int
	)
	for start := 0; start < len(chunks); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		lo, hi := start, end

		wg.Add(1)
		submitErr := c.batchPool.Submit(func() {
			defer wg.Done()
			if c.isCancelled(doc.FileID) {
				mu.Lock()
				if firstErr == nil {
					firstErr = errCancelled
				}
				mu.Unlock()
				return
			}
			texts := make([]string, hi-lo)
			for i := lo; i < hi; i++ {
				texts[i-lo] = chunks[i].Text
			}
			var batch [][]float32
			attempts, err := retryWithBackoff(ctx, func() error {
				return c.callWithTimeout(ctx, func(cctx context.Context) error {
					var embedErr error
					batch, embedErr = c.embedder.EmbedBatch(cctx, texts)
					return embedErr
				})
			}, c.cfg.MaxAttempts, c.cfg.RetryBase, c.cfg.RetryCap)

			mu.Lock()
			defer mu.Unlock()
			if attempts > maxAttempts {
				maxAttempts = attempts
			}
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("embed chunks %d-%d: %w", lo, hi-1, err)
				}
				return
			}
			copy(vectors[lo:hi], batch)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("submit embed batch: %w", submitErr)
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	c.recordAttempts(ctx, doc.FileID, maxAttempts)
	if firstErr != nil {
		return nil, firstErr
	}
	return vectors, nil
}

// stageIndex writes vectors to the index and chunk rows to the metadata
// store, vectors first. Both writes are idempotent upserts, so a retried
// run converges. If vectors land but the metadata write ultimately fails,
// the error is escalated to a consistency fault carrying the orphaned
// chunk IDs so an operator can reconcile.
func (c *Coordinator) stageIndex(ctx context.Context, doc *models.Document, chunks []*models.Chunk, vectors [][]float32) ([]string, error) {
	if err := c.store.SetState(ctx, doc.FileID, models.StateIndexing); err != nil {
		return nil, fmt.Errorf("enter indexing: %w", err)
	}

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}

	var indexed []string
	for start := 0; start < len(ids); start += c.cfg.BatchSize {
		if c.isCancelled(doc.FileID) {
			return indexed, errCancelled
		}
		end := start + c.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		attempts, err := retryWithBackoff(ctx, func() error {
			return c.callWithTimeout(ctx, func(cctx context.Context) error {
				return c.index.Upsert(cctx, doc.TenantID, ids[start:end], vectors[start:end])
			})
		}, c.cfg.MaxAttempts, c.cfg.RetryBase, c.cfg.RetryCap)
		c.recordAttempts(ctx, doc.FileID, attempts)
		if err != nil {
			if len(indexed) > 0 {
				return indexed, faults.Consistency(fmt.Errorf("upsert vectors %d-%d after partial write: %w", start, end-1, err))
			}
			return nil, fmt.Errorf("upsert vectors %d-%d: %w", start, end-1, err)
		}
		indexed = append(indexed, ids[start:end]...)
	}

	if c.isCancelled(doc.FileID) {
		return indexed, errCancelled
	}
	attempts, err := retryWithBackoff(ctx, func() error {
		return c.store.PutChunks(ctx, chunks)
	}, c.cfg.MaxAttempts, c.cfg.RetryBase, c.cfg.RetryCap)
	c.recordAttempts(ctx, doc.FileID, attempts)
	if err != nil {
		return indexed, faults.Consistency(fmt.Errorf("persist chunk metadata after vectors written: %w", err))
	}
	return indexed, nil
}

// fail records a terminal failure: the status row flips to Failed with a
// sanitized message, and unrecoverable infrastructure or consistency
// failures additionally produce exactly one dead letter. Client-input and
// permanent processing errors are final by definition and do not dead-letter.
func (c *Coordinator) fail(ctx context.Context, doc *models.Document, stage models.State, cause error, indexed []string) {
	kind := faults.KindOf(cause)
	c.logger.Error("ingestion failed",
		zap.String("file_id", doc.FileID),
		zap.String("tenant_id", doc.TenantID),
		zap.String("stage", string(stage)),
		zap.String("kind", kind.String()),
		zap.Error(cause),
	)

	if err := c.store.MarkFailed(ctx, doc.FileID, faults.UserMessage(cause)); err != nil {
		c.logger.Error("mark failed", zap.String("file_id", doc.FileID), zap.Error(err))
	}

	if kind != faults.KindTransient && kind != faults.KindConsistency {
		return
	}

	detail := ""
	if len(indexed) > 0 {
		d, _ := json.Marshal(map[string]interface{}{
			"indexed_chunk_ids": indexed,
			"cause":             cause.Error(),
		})
		detail = string(d)
	}
	dl := &metastore.DeadLetter{
		ID:        uuid.NewString(),
		FileID:    doc.FileID,
		TenantID:  doc.TenantID,
		Stage:     string(stage),
		Reason:    cause.Error(),
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.PushDeadLetter(ctx, dl); err != nil {
		c.logger.Error("push dead letter", zap.String("file_id", doc.FileID), zap.Error(err))
	}
}

// removeIndexed deletes vectors a cancelled run upserted before it observed
// the cancellation.
func (c *Coordinator) removeIndexed(ctx context.Context, doc *models.Document, indexed []string) {
	if len(indexed) == 0 {
		return
	}
	if _, err := retryWithBackoff(ctx, func() error {
		return c.callWithTimeout(ctx, func(cctx context.Context) error {
			return c.index.Delete(cctx, doc.TenantID, indexed)
		})
	}, c.cfg.MaxAttempts, c.cfg.RetryBase, c.cfg.RetryCap); err != nil {
		c.logger.Error("remove vectors of cancelled run",
			zap.String("file_id", doc.FileID),
			zap.Int("vectors", len(indexed)),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) recordAttempts(ctx context.Context, fileID string, n int) {
	if n <= 1 {
		return
	}
	if err := c.store.SetAttempts(ctx, fileID, n); err != nil {
		c.logger.Warn("record attempts", zap.String("file_id", fileID), zap.Error(err))
	}
}
