package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/objidx/internal/store"
)

// CheckpointClock hands out contiguous checkpoint sequence numbers for tests.
//
// The first call to Next returns 0, matching the first checkpoint a store
// accepts. Reset allows the same scenario to run again with identical
// sequence numbers.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type CheckpointClock struct {
	mu   sync.Mutex
	next uint64
}

// NewCheckpointClock creates a clock whose next checkpoint is 0.
func NewCheckpointClock() *CheckpointClock {
	return &CheckpointClock{}
}

// Next returns the next checkpoint sequence number.
func (c *CheckpointClock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.next
	c.next++
	return seq
}

// Current returns the last sequence number handed out and false if Next
// was never called.
func (c *CheckpointClock) Current() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == 0 {
		return 0, false
	}
	return c.next - 1, true
}

// Reset rewinds the clock so the next checkpoint is 0 again.
func (c *CheckpointClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = 0
}

// NextBatch returns a single-checkpoint epoch-0 batch for the next sequence
// number. Every object record in changes is stamped with that checkpoint.
func (c *CheckpointClock) NextBatch(changes ...store.TransactionObjectChanges) store.CheckpointBatch {
	seq := c.Next()
	stamped := make([]store.TransactionObjectChanges, len(changes))
	for i, ch := range changes {
		stamped[i] = store.TransactionObjectChanges{
			Changed: stamp(ch.Changed, seq),
			Deleted: stamp(ch.Deleted, seq),
		}
	}
	return store.CheckpointBatch{
		Checkpoints:   []store.Checkpoint{Checkpoint(seq)},
		ObjectChanges: stamped,
	}
}

func stamp(records []store.ObjectRecord, seq uint64) []store.ObjectRecord {
	if records == nil {
		return nil
	}
	out := make([]store.ObjectRecord, len(records))
	for i, r := range records {
		r.Checkpoint = seq
		out[i] = r
	}
	return out
}

// Checkpoint returns an epoch-0 checkpoint with a digest derived from seq.
func Checkpoint(seq uint64) store.Checkpoint {
	return store.Checkpoint{
		SequenceNumber:           seq,
		Digest:                   fmt.Sprintf("cp-%d", seq),
		TimestampMs:              1_700_000_000_000 + seq*1000,
		NetworkTotalTransactions: seq + 1,
	}
}
