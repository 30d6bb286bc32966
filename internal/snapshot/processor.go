// Package snapshot keeps the objects snapshot a fixed number of checkpoints
// behind the committed frontier.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/roach88/objidx/internal/metrics"
	"github.com/roach88/objidx/internal/store"
)

// Store is the part of the store the processor reads and advances.
type Store interface {
	GetLatestCheckpointSequenceNumber(ctx context.Context) (uint64, bool, error)
	GetLatestObjectSnapshotCheckpointSequenceNumber(ctx context.Context) (uint64, bool, error)
	UpdateObjectsSnapshot(ctx context.Context, startCP, endCP uint64) error
}

// Config controls the lag behind the committed frontier and the polling
// interval.
type Config struct {
	// Lag is how many committed checkpoints stay out of the snapshot.
	Lag uint64
	// SleepDuration is the pause between polls.
	SleepDuration time.Duration
}

// Processor advances the snapshot in contiguous windows.
type Processor struct {
	store   Store
	cfg     Config
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	// frontier is the snapshot frontier plus one; zero before the first window.
	frontier atomic.Uint64
}

// New creates a processor. m may be nil.
func New(st Store, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) *Processor {
	return &Processor{store: st, cfg: cfg, log: log, metrics: m}
}

// Frontier returns the last checkpoint this processor folded into the
// snapshot.
func (p *Processor) Frontier() (uint64, bool) {
	v := p.frontier.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// Window returns the half-open checkpoint range the next update would apply.
// The range is empty when the snapshot is already Lag checkpoints behind.
func (p *Processor) Window(ctx context.Context) (start, end uint64, err error) {
	latest, ok, err := p.store.GetLatestCheckpointSequenceNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot window: %w", err)
	}
	frontier, hasFrontier, err := p.store.GetLatestObjectSnapshotCheckpointSequenceNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot window: %w", err)
	}
	if hasFrontier {
		start = frontier + 1
	}
	if !ok || latest < p.cfg.Lag {
		return start, start, nil
	}
	end = latest - p.cfg.Lag + 1
	if end < start {
		end = start
	}
	return start, end, nil
}

// Step applies one window if there is one. It reports whether the snapshot
// advanced.
func (p *Processor) Step(ctx context.Context) (bool, error) {
	start, end, err := p.Window(ctx)
	if err != nil {
		return false, err
	}
	if end == start {
		return false, nil
	}
	if err := p.store.UpdateObjectsSnapshot(ctx, start, end); err != nil {
		return false, fmt.Errorf("update snapshot [%d, %d): %w", start, end, err)
	}
	p.frontier.Store(end)
	p.metrics.ObserveSnapshot(end - 1)
	p.log.Debugw("snapshot advanced", "start", start, "end", end)
	return true, nil
}

// Run steps until ctx is cancelled. Transient errors are logged and retried
// on the next poll; any other error stops the processor.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Infof("snapshot processor starting: lag %d, sleep %v", p.cfg.Lag, p.cfg.SleepDuration)
	t := time.NewTicker(p.cfg.SleepDuration)
	defer t.Stop()
	for {
		advanced, err := p.Step(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			p.log.Infof("snapshot processor stopping: %v", ctx.Err())
			return ctx.Err()
		case store.IsTransient(err):
			p.log.Warnw("snapshot update failed, will retry", "error", err)
		default:
			p.log.Errorw("snapshot processor stopped", "error", err)
			return err
		}
		if advanced {
			// Catch up without waiting while there is more to apply.
			continue
		}

		select {
		case <-ctx.Done():
			p.log.Infof("snapshot processor stopping: %v", ctx.Err())
			return ctx.Err()
		case <-t.C:
		}
	}
}
