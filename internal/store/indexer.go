package store

import (
	"context"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/types"
)

// IndexerStore is the write and metadata contract between ingestion and
// storage. Implementations guarantee:
//
//  1. A checkpoint's object, history and checkpoint rows become visible
//     together (see CommitCheckpointBatch).
//  2. PersistCheckpoints for N fails with ErrSequenceGap unless N-1 is
//     committed.
//  3. BackfillObjectsSnapshot and UpdateObjectsSnapshot never interleave;
//     the first incremental update ends backfill.
//  4. AdvanceEpoch is the only writer of the epoch-end transaction counter,
//     follows PersistEpoch and is idempotent.
//  5. PruneEpoch never removes data still inside the snapshot window.
//  6. The chain identifier is first-writer-wins.
type IndexerStore interface {
	GetLatestCheckpointSequenceNumber(ctx context.Context) (uint64, bool, error)
	GetAvailableEpochRange(ctx context.Context) (uint64, uint64, error)
	GetAvailableCheckpointRange(ctx context.Context) (uint64, uint64, error)
	GetLatestObjectSnapshotCheckpointSequenceNumber(ctx context.Context) (uint64, bool, error)
	GetChainIdentifier(ctx context.Context) ([]byte, bool, error)

	PersistProtocolConfigsAndFeatureFlags(ctx context.Context, chainID []byte) error

	PersistObjects(ctx context.Context, changes []TransactionObjectChanges) error
	PersistObjectHistory(ctx context.Context, changes []TransactionObjectChanges) error

	// BackfillObjectsSnapshot writes snapshot rows directly from object
	// changes. Backfill mode only.
	BackfillObjectsSnapshot(ctx context.Context, changes []TransactionObjectChanges) error

	// UpdateObjectsSnapshot advances the snapshot over [startCP, endCP).
	UpdateObjectsSnapshot(ctx context.Context, startCP, endCP uint64) error

	PersistCheckpoints(ctx context.Context, checkpoints []Checkpoint) error
	PersistTransactions(ctx context.Context, txs []Transaction) error
	PersistTxIndices(ctx context.Context, indices []TxIndex) error
	PersistEvents(ctx context.Context, events []Event) error
	PersistEventIndices(ctx context.Context, indices []EventIndex) error
	PersistDisplays(ctx context.Context, displays map[string]Display) error
	PersistPackages(ctx context.Context, packages []Package) error

	PersistEpoch(ctx context.Context, epoch EpochToCommit) error
	AdvanceEpoch(ctx context.Context, epoch EpochToCommit) error
	PruneEpoch(ctx context.Context, epoch uint64) error
	GetNetworkTotalTransactionsByEndOfEpoch(ctx context.Context, epoch uint64) (uint64, error)
}

// ObjectReader answers object queries.
type ObjectReader interface {
	// QueryObjectsHistory returns the live objects matching f as of
	// checkpoint, ordered by object id, after cursor.
	QueryObjectsHistory(ctx context.Context, f filter.ObjectFilter, checkpoint uint64, cursor *types.ObjectID, limit int) ([]ObjectRecord, error)

	// QueryLatestObjects returns live objects from the current state.
	// Only a top-level AddressOwner filter is applied.
	QueryLatestObjects(ctx context.Context, f filter.ObjectFilter, cursor *types.ObjectID, limit int) ([]ObjectRecord, error)

	// QuerySnapshotObjects is QueryLatestObjects against the snapshot.
	QuerySnapshotObjects(ctx context.Context, f filter.ObjectFilter, cursor *types.ObjectID, limit int) ([]ObjectRecord, error)
}

// Inspector exposes internal relations for tests and diagnostics.
type Inspector interface {
	ObjectsSnapshot(ctx context.Context) ([]ObjectRecord, error)
	SnapshotMode(ctx context.Context) (SnapshotMode, bool, error)
}

var (
	_ IndexerStore = (*Store)(nil)
	_ ObjectReader = (*Store)(nil)
	_ Inspector    = (*Store)(nil)
)
