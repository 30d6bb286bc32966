package committer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/objidx/internal/metrics"
	"github.com/roach88/objidx/internal/store"
	"github.com/roach88/objidx/internal/testutil"
)

// fakeStore records committed batches and fails according to failures.
type fakeStore struct {
	mu        sync.Mutex
	committed []uint64
	failures  []error
	onCommit  func(ctx context.Context)
}

func (f *fakeStore) CommitCheckpointBatch(ctx context.Context, b store.CheckpointBatch) error {
	if f.onCommit != nil {
		f.onCommit(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	last, _ := b.LastCheckpoint()
	f.committed = append(f.committed, last)
	return nil
}

func feed(batches ...store.CheckpointBatch) <-chan store.CheckpointBatch {
	ch := make(chan store.CheckpointBatch, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)
	return ch
}

func batches(n int) []store.CheckpointBatch {
	clock := testutil.NewCheckpointClock()
	out := make([]store.CheckpointBatch, n)
	for i := range out {
		out[i] = clock.NextBatch()
	}
	return out
}

var fastRetry = Config{MaxRetries: 3, RetryBackoff: time.Millisecond}

func TestRun_CommitsInOrder(t *testing.T) {
	fs := &fakeStore{}
	c := New(fs, fastRetry, zaptest.NewLogger(t).Sugar(), nil)

	_, ok := c.LastCommitted()
	assert.False(t, ok)

	require.NoError(t, c.Run(context.Background(), feed(batches(3)...)))
	assert.Equal(t, []uint64{0, 1, 2}, fs.committed)

	last, ok := c.LastCommitted()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), last)
	assert.NotEqual(t, [16]byte{}, [16]byte(c.RunID()))
}

func TestRun_RetriesTransient(t *testing.T) {
	busy := &store.Error{Kind: store.KindTransient, Op: "commit checkpoint batch", Msg: "database is locked"}
	fs := &fakeStore{failures: []error{busy, busy}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := New(fs, fastRetry, zaptest.NewLogger(t).Sugar(), m)

	require.NoError(t, c.Run(context.Background(), feed(batches(1)...)))
	assert.Equal(t, []uint64{0}, fs.committed)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.CommitRetries))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.CommitFailures.WithLabelValues("TRANSIENT")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CommittedCheckpoints))
}

func TestRun_GivesUpAfterMaxRetries(t *testing.T) {
	busy := &store.Error{Kind: store.KindTransient, Msg: "busy"}
	fs := &fakeStore{failures: []error{busy, busy, busy, busy, busy}}
	c := New(fs, Config{MaxRetries: 2, RetryBackoff: time.Millisecond}, zaptest.NewLogger(t).Sugar(), nil)

	err := c.Run(context.Background(), feed(batches(1)...))
	assert.ErrorIs(t, err, store.ErrTransient)
	assert.Empty(t, fs.committed)
	assert.Len(t, fs.failures, 2, "three attempts were made")
}

func TestRun_StopsOnFatal(t *testing.T) {
	gap := &store.Error{Kind: store.KindSequenceGap, Msg: "checkpoint 5 before 3"}
	fs := &fakeStore{failures: []error{gap}}
	c := New(fs, fastRetry, zaptest.NewLogger(t).Sugar(), nil)

	err := c.Run(context.Background(), feed(batches(2)...))
	assert.ErrorIs(t, err, store.ErrSequenceGap)
	assert.True(t, store.IsFatal(err))
	assert.Empty(t, fs.committed, "nothing after the failed batch is committed")
}

func TestRun_RejectsEmptyBatch(t *testing.T) {
	c := New(&fakeStore{}, fastRetry, zaptest.NewLogger(t).Sugar(), nil)
	err := c.Run(context.Background(), feed(store.CheckpointBatch{}))
	assert.ErrorIs(t, err, store.ErrSchemaViolation)
}

func TestRun_CancelBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var commitCtxErr error
	fs := &fakeStore{}
	fs.onCommit = func(commitCtx context.Context) {
		// Cancel while the first batch is in flight.
		cancel()
		commitCtxErr = commitCtx.Err()
	}
	c := New(fs, fastRetry, zaptest.NewLogger(t).Sugar(), nil)

	err := c.Run(ctx, feed(batches(3)...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsShutdown(err))
	assert.NoError(t, commitCtxErr, "an in-flight batch is not cancelled")
	assert.Equal(t, []uint64{0}, fs.committed)
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	busy := &store.Error{Kind: store.KindTransient, Msg: "busy"}
	fs := &fakeStore{failures: []error{busy}}
	fs.onCommit = func(context.Context) { cancel() }
	c := New(fs, Config{MaxRetries: 3, RetryBackoff: time.Hour}, zaptest.NewLogger(t).Sugar(), nil)

	err := c.Run(ctx, feed(batches(1)...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fs.committed)
}

func TestRun_AgainstStore(t *testing.T) {
	s := testutil.NewStore(t)
	alice, bob := testutil.Address(0xa), testutil.Address(0xb)
	clock := testutil.NewCheckpointClock()
	in := feed(
		clock.NextBatch(testutil.Changed(testutil.Owned(testutil.ObjectID(1), 1, alice))),
		clock.NextBatch(testutil.Changed(testutil.Transferred(testutil.ObjectID(1), 2, alice, bob))),
	)

	c := New(s, fastRetry, zaptest.NewLogger(t).Sugar(), nil)
	require.NoError(t, c.Run(context.Background(), in))

	latest, ok, err := s.GetLatestCheckpointSequenceNumber(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), latest)
}

func TestRun_SkippedCheckpointFailsWithGap(t *testing.T) {
	s := testutil.NewStore(t)
	clock := testutil.NewCheckpointClock()
	b0 := clock.NextBatch()
	clock.Next() // skip checkpoint 1
	b2 := clock.NextBatch()

	c := New(s, fastRetry, zaptest.NewLogger(t).Sugar(), nil)
	err := c.Run(context.Background(), feed(b0, b2))
	assert.True(t, errors.Is(err, store.ErrSequenceGap))

	last, ok := c.LastCommitted()
	assert.True(t, ok)
	assert.Equal(t, uint64(0), last)
}
