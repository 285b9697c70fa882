// Package pipeline orchestrates document ingestion: extract, chunk, embed,
// index, finalize status. It owns retry, dead-letter, cancellation, and
// delete/re-index semantics.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/deptkb/deptkb/internal/chunker"
	"github.com/deptkb/deptkb/internal/embedding"
	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/rawstore"
	"github.com/deptkb/deptkb/internal/vector"
)

// Config holds orchestration tunables.
type Config struct {
	Workers          int           // concurrent pipelines
	BatchConcurrency int           // parallel embed/index batches per pipeline
	BatchSize        int           // texts per embedding request
	MaxAttempts      int           // per-stage attempts for transient failures
	RetryBase        time.Duration // first backoff delay
	RetryCap         time.Duration // backoff ceiling
	StageTimeout     time.Duration // per external call
	TargetTokens     int
	OverlapTokens    int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 30 * time.Second
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 60 * time.Second
	}
	if c.TargetTokens <= 0 {
		c.TargetTokens = 400
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
}

// Coordinator runs ingestion pipelines. One pipeline instance runs per
// document; the worker pool bounds how many run at once.
type Coordinator struct {
	raw      rawstore.Store
	store    metastore.Store
	embedder embedding.Embedder
	index    vector.Index
	chunker  *chunker.Chunker
	cfg      Config
	logger   *zap.Logger

	pipePool  *ants.Pool
	batchPool *ants.Pool

	mu        sync.Mutex
	cancelled map[string]bool
	inflight  map[string]chan struct{}

	wg sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator with the given dependencies.
func NewCoordinator(
	raw rawstore.Store,
	store metastore.Store,
	embedder embedding.Embedder,
	index vector.Index,
	cfg Config,
	opts ...Option,
) (*Coordinator, error) {
	cfg.applyDefaults()
	pipePool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	batchPool, err := ants.NewPool(cfg.Workers * cfg.BatchConcurrency)
	if err != nil {
		pipePool.Release()
		return nil, err
	}
	c := &Coordinator{
		raw:       raw,
		store:     store,
		embedder:  embedder,
		index:     index,
		chunker:   chunker.New(cfg.TargetTokens, cfg.OverlapTokens),
		cfg:       cfg,
		logger:    zap.NewNop(),
		pipePool:  pipePool,
		batchPool: batchPool,
		cancelled: make(map[string]bool),
		inflight:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Release stops accepting work and frees the worker pools after in-flight
// pipelines drain.
func (c *Coordinator) Release() {
	c.wg.Wait()
	c.pipePool.Release()
	c.batchPool.Release()
}

// markCancelled flags a file so its running pipeline aborts at the next
// stage boundary.
func (c *Coordinator) markCancelled(fileID string) {
	c.mu.Lock()
	c.cancelled[fileID] = true
	c.mu.Unlock()
}

func (c *Coordinator) isCancelled(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[fileID]
}

func (c *Coordinator) clearCancelled(fileID string) {
	c.mu.Lock()
	delete(c.cancelled, fileID)
	c.mu.Unlock()
}

// beginRun registers a pipeline run for the file and returns the channel
// closed when it finishes.
func (c *Coordinator) beginRun(fileID string) chan struct{} {
	done := make(chan struct{})
	c.mu.Lock()
	c.inflight[fileID] = done
	c.mu.Unlock()
	return done
}

// endRun signals that a run finished. The map entry is removed only if it
// still belongs to this run.
func (c *Coordinator) endRun(fileID string, done chan struct{}) {
	c.mu.Lock()
	if c.inflight[fileID] == done {
		delete(c.inflight, fileID)
	}
	c.mu.Unlock()
	close(done)
}

// waitInflight blocks until the file's in-flight pipeline run, if any,
// finishes. Cancellers must drain the run before touching the file's
// derived state, otherwise the run could re-create rows and vectors after
// the delete completed.
func (c *Coordinator) waitInflight(ctx context.Context, fileID string) error {
	c.mu.Lock()
	done := c.inflight[fileID]
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// callWithTimeout runs op under the per-call stage timeout.
func (c *Coordinator) callWithTimeout(ctx context.Context, op func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
	defer cancel()
	return op(cctx)
}
