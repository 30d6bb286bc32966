package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objidx/internal/types"
)

func TestGetLatestCheckpoint_EmptyStore(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.GetLatestCheckpointSequenceNumber(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.GetAvailableCheckpointRange(context.Background())
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.False(t, IsFatal(err))
}

func TestPersistCheckpoints_EmptyStoreStartsAtZero(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.PersistCheckpoints(ctx, []Checkpoint{testCheckpoint(1, 0)})
	assert.ErrorIs(t, err, ErrSequenceGap)

	require.NoError(t, s.PersistCheckpoints(ctx, []Checkpoint{testCheckpoint(0, 0)}))
}

func TestPersistCheckpoints_RejectsOutOfOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistCheckpoints(ctx, []Checkpoint{testCheckpoint(0, 0)}))

	// N+1 before N.
	err := s.PersistCheckpoints(ctx, []Checkpoint{testCheckpoint(2, 0)})
	require.ErrorIs(t, err, ErrSequenceGap)
	assert.True(t, IsFatal(err))
	assert.Equal(t, KindSequenceGap, KindOf(err))

	seq, _, err := s.GetLatestCheckpointSequenceNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq, "rejected checkpoint must not move the frontier")
}

func TestPersistCheckpoints_NonContiguousBatch(t *testing.T) {
	s := createTestStore(t)

	err := s.PersistCheckpoints(context.Background(), []Checkpoint{testCheckpoint(0, 0), testCheckpoint(2, 0)})
	assert.ErrorIs(t, err, ErrSequenceGap)
	assert.Equal(t, 0, countRows(t, s, "checkpoints"))
}

func TestPersistCheckpoints_ReplayIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	batch := []Checkpoint{testCheckpoint(0, 0), testCheckpoint(1, 0)}
	require.NoError(t, s.PersistCheckpoints(ctx, batch))
	require.NoError(t, s.PersistCheckpoints(ctx, batch))

	// Overlapping batch: 1 is skipped, 2 is new.
	require.NoError(t, s.PersistCheckpoints(ctx, []Checkpoint{testCheckpoint(1, 0), testCheckpoint(2, 0)}))

	lo, hi, err := s.GetAvailableCheckpointRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lo)
	assert.Equal(t, uint64(2), hi)
	assert.Equal(t, 3, countRows(t, s, "checkpoints"))
}

func TestPersistCheckpoints_ConflictingDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistCheckpoints(ctx, []Checkpoint{testCheckpoint(0, 0)}))

	cp := testCheckpoint(0, 0)
	cp.Digest = "forked"
	err := s.PersistCheckpoints(ctx, []Checkpoint{cp})
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestCommitCheckpointBatch_WritesEverything(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	pkg := types.MustParseAddress("0x2")
	batch := CheckpointBatch{
		Checkpoints: []Checkpoint{testCheckpoint(0, 0), testCheckpoint(1, 0)},
		Transactions: []Transaction{
			{SequenceNumber: 0, Digest: "tx0", Checkpoint: 0, Sender: alice},
			{SequenceNumber: 1, Digest: "tx1", Checkpoint: 1, Sender: bob},
		},
		TxIndices: []TxIndex{{
			TxSequenceNumber: 1,
			Checkpoint:       1,
			Sender:           bob,
			Recipients:       []types.Address{alice},
			InputObjects:     []types.ObjectID{objectID(1)},
			ChangedObjects:   []types.ObjectID{objectID(1), objectID(2)},
			MoveCalls:        []MoveCall{{Package: pkg, Module: "coin", Function: "split"}},
		}},
		Events: []Event{{
			TxSequenceNumber: 1, EventSequenceNumber: 0, Checkpoint: 1,
			TransactionDigest: "tx1", Sender: bob, Package: pkg, Module: "coin",
			EventType: "0x2::coin::Split",
		}},
		EventIndices: []EventIndex{{
			TxSequenceNumber: 1, EventSequenceNumber: 0, Checkpoint: 1,
			Sender: bob, EmitPackage: pkg, EmitModule: "coin", EventType: "0x2::coin::Split",
		}},
		Displays: map[string]Display{
			coinType: {ObjectType: coinType, ID: objectID(9), Version: 1},
		},
		Packages: []Package{{PackageID: pkg, Checkpoint: 0}},
		ObjectChanges: []TransactionObjectChanges{
			changed(ownedObject(objectID(1), 1, 0, alice)),
			changed(transferredObject(objectID(1), 2, 1, alice, bob), ownedObject(objectID(2), 1, 1, bob)),
		},
		Epoch: &EpochToCommit{NewEpoch: EpochStart{Epoch: 0, FirstCheckpoint: 0}},
	}
	require.NoError(t, s.CommitCheckpointBatch(ctx, batch))

	for table, want := range map[string]int{
		"checkpoints":        2,
		"transactions":       2,
		"tx_senders":         1,
		"tx_recipients":      1,
		"tx_input_objects":   1,
		"tx_changed_objects": 2,
		"tx_calls":           1,
		"events":             1,
		"event_indices":      1,
		"displays":           1,
		"packages":           1,
		"objects":            2,
		"objects_history":    3,
		"epochs":             1,
	} {
		assert.Equal(t, want, countRows(t, s, table), table)
	}

	// Replaying the committed batch changes nothing.
	require.NoError(t, s.CommitCheckpointBatch(ctx, batch))
	assert.Equal(t, 3, countRows(t, s, "objects_history"))
	assert.Equal(t, 2, countRows(t, s, "checkpoints"))
}

func TestCommitCheckpointBatch_AtomicOnSequenceGap(t *testing.T) {
	s := createTestStore(t)

	err := s.CommitCheckpointBatch(context.Background(), CheckpointBatch{
		Checkpoints:   []Checkpoint{testCheckpoint(5, 0)},
		Transactions:  []Transaction{{SequenceNumber: 0, Digest: "tx0", Checkpoint: 5, Sender: alice}},
		ObjectChanges: []TransactionObjectChanges{changed(ownedObject(objectID(1), 1, 5, alice))},
	})
	require.ErrorIs(t, err, ErrSequenceGap)

	// Object writes precede the checkpoint row, and none survive.
	assert.Equal(t, 0, countRows(t, s, "objects"))
	assert.Equal(t, 0, countRows(t, s, "objects_history"))
	assert.Equal(t, 0, countRows(t, s, "transactions"))
}

func TestCommitCheckpointBatch_RejectsForeignRecords(t *testing.T) {
	s := createTestStore(t)

	err := s.CommitCheckpointBatch(context.Background(), CheckpointBatch{
		Checkpoints:   []Checkpoint{testCheckpoint(0, 0)},
		ObjectChanges: []TransactionObjectChanges{changed(ownedObject(objectID(1), 1, 3, alice))},
	})
	assert.ErrorIs(t, err, ErrSchemaViolation)

	err = s.CommitCheckpointBatch(context.Background(), CheckpointBatch{})
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestCommitCheckpointBatch_CanceledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.CommitCheckpointBatch(ctx, CheckpointBatch{
		Checkpoints:   []Checkpoint{testCheckpoint(0, 0)},
		ObjectChanges: []TransactionObjectChanges{changed(ownedObject(objectID(1), 1, 0, alice))},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))

	_, ok, err := s.GetLatestCheckpointSequenceNumber(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, countRows(t, s, "objects_history"))
}

func TestCommitCheckpointBatch_EpochBoundary(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitCheckpointBatch(ctx, CheckpointBatch{
		Checkpoints: []Checkpoint{testCheckpoint(0, 0)},
		Epoch:       &EpochToCommit{NewEpoch: EpochStart{Epoch: 0, FirstCheckpoint: 0}},
	}))

	end := testCheckpoint(1, 0)
	end.EndOfEpoch = true
	require.NoError(t, s.CommitCheckpointBatch(ctx, CheckpointBatch{
		Checkpoints: []Checkpoint{end},
		Epoch: &EpochToCommit{
			LastEpoch: &EpochEnd{Epoch: 0, LastCheckpoint: 1, EpochTotalTransactions: 2, NetworkTotalTransactions: 10},
			NewEpoch:  EpochStart{Epoch: 1, FirstCheckpoint: 2},
		},
	}))

	total, err := s.GetNetworkTotalTransactionsByEndOfEpoch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), total)

	lo, hi, err := s.GetAvailableEpochRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lo)
	assert.Equal(t, uint64(1), hi)
}

func TestCommitCheckpointBatch_EpochMustEndAtBatchEnd(t *testing.T) {
	s := createTestStore(t)

	err := s.CommitCheckpointBatch(context.Background(), CheckpointBatch{
		Checkpoints: []Checkpoint{testCheckpoint(0, 0), testCheckpoint(1, 0)},
		Epoch: &EpochToCommit{
			LastEpoch: &EpochEnd{Epoch: 0, LastCheckpoint: 0},
			NewEpoch:  EpochStart{Epoch: 1, FirstCheckpoint: 1},
		},
	})
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestCommitCheckpointBatch_RejectsPrunedReplay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedEpochs(t, s)
	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 0, 2))
	require.NoError(t, s.PruneEpoch(ctx, 0))

	history := countRows(t, s, "objects_history")
	txs := countRows(t, s, "transactions")

	err := s.CommitCheckpointBatch(ctx, CheckpointBatch{
		Checkpoints:   []Checkpoint{testCheckpoint(0, 0)},
		Transactions:  []Transaction{{SequenceNumber: 0, Digest: "tx0", Checkpoint: 0, Sender: alice}},
		ObjectChanges: []TransactionObjectChanges{changed(ownedObject(objectID(1), 1, 0, alice))},
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, history, countRows(t, s, "objects_history"), "pruned history is not restored")
	assert.Equal(t, txs, countRows(t, s, "transactions"))

	lo, _, err := s.GetAvailableCheckpointRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lo)
}
