// Package committer drives checkpoint ingestion into the store.
//
// The committer is a single-writer loop: batches are committed strictly in
// the order they arrive, one SQL transaction per batch. Cancellation is only
// observed between batches. A batch that has started committing runs to
// completion, so the committed frontier always ends on a whole checkpoint.
//
// Transient store errors are retried with exponential backoff up to
// Config.MaxRetries. Any other error stops the loop.
package committer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/roach88/objidx/internal/metrics"
	"github.com/roach88/objidx/internal/store"
)

// BatchStore is the part of the store the committer writes through.
type BatchStore interface {
	CommitCheckpointBatch(ctx context.Context, batch store.CheckpointBatch) error
}

// Config bounds retries of transient failures.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Committer commits checkpoint batches from a channel.
type Committer struct {
	store   BatchStore
	cfg     Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	runID   uuid.UUID

	// latest is the last checkpoint this committer committed, plus one.
	// Zero means nothing committed yet.
	latest  atomic.Uint64
	batches atomic.Int64
}

// New creates a committer. m may be nil.
func New(st BatchStore, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) *Committer {
	runID := uuid.New()
	return &Committer{
		store:   st,
		cfg:     cfg,
		log:     log.With("run", runID.String()),
		metrics: m,
		runID:   runID,
	}
}

// RunID identifies this committer in logs.
func (c *Committer) RunID() uuid.UUID {
	return c.runID
}

// LastCommitted returns the last checkpoint committed by this committer.
func (c *Committer) LastCommitted() (uint64, bool) {
	v := c.latest.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// Batches returns how many batches this committer committed.
func (c *Committer) Batches() int {
	return int(c.batches.Load())
}

// Run commits batches until the channel is closed, ctx is cancelled or a
// batch fails. It returns nil when the channel is drained, ctx.Err() on
// cancellation and the store error otherwise.
func (c *Committer) Run(ctx context.Context, batches <-chan store.CheckpointBatch) error {
	c.log.Infof("committer starting")
	for {
		// Prefer stopping over taking another batch.
		if err := ctx.Err(); err != nil {
			c.log.Infof("committer stopping: %v", err)
			return err
		}

		select {
		case <-ctx.Done():
			c.log.Infof("committer stopping: %v", ctx.Err())
			return ctx.Err()

		case batch, ok := <-batches:
			if !ok {
				c.log.Infof("committer stopping: input closed")
				return nil
			}
			if err := c.commit(ctx, batch); err != nil {
				return err
			}
		}
	}
}

func (c *Committer) commit(ctx context.Context, batch store.CheckpointBatch) error {
	last, ok := batch.LastCheckpoint()
	if !ok {
		return fmt.Errorf("commit batch: %w", store.ErrSchemaViolation)
	}

	backoff := c.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := c.store.CommitCheckpointBatch(context.WithoutCancel(ctx), batch)
		if err == nil {
			c.latest.Store(last + 1)
			c.batches.Inc()
			c.metrics.ObserveCommit(last, time.Since(start))
			c.log.Debugw("checkpoint batch committed",
				"first", batch.Checkpoints[0].SequenceNumber,
				"last", last,
				"objects", len(batch.ObjectChanges))
			return nil
		}

		c.metrics.ObserveCommitFailure(kindLabel(err))
		if !store.IsTransient(err) || attempt >= c.cfg.MaxRetries {
			c.log.Errorw("checkpoint batch failed", "last", last, "attempt", attempt+1, "error", err)
			return fmt.Errorf("commit checkpoint %d: %w", last, err)
		}

		c.metrics.ObserveRetry()
		c.log.Warnw("retrying checkpoint batch", "last", last, "attempt", attempt+1, "backoff", backoff, "error", err)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func kindLabel(err error) string {
	if k := store.KindOf(err); k != 0 {
		return k.String()
	}
	return "UNCLASSIFIED"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsShutdown reports whether err only signals a requested stop.
func IsShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
