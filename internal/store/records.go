package store

import (
	"math"

	"github.com/roach88/objidx/internal/types"
)

// ObjectRecord is one version of one object as of the checkpoint that
// produced it. The same shape is stored in the live, history and snapshot
// relations.
type ObjectRecord struct {
	ObjectID   types.ObjectID
	Version    uint64
	Digest     string
	Checkpoint uint64

	// Owner is the owner after this version was written. OwnerAddress is nil
	// for shared and immutable objects and for removed objects.
	OwnerType    types.OwnerType
	OwnerAddress *types.Address

	// OldOwner is the owner before this version was written, so queries can
	// find objects that moved away from or were removed by an address.
	OldOwnerType    types.OwnerType
	OldOwnerAddress *types.Address

	// ObjectType is the canonical struct tag, empty for packages.
	ObjectType string
	Status     types.ObjectStatus

	CoinType    string
	CoinBalance *uint64

	BCS []byte
}

// TransactionObjectChanges are the object writes of one transaction.
// Changed holds live versions; Deleted holds versions whose status is
// deleted, wrapped or unwrapped_then_deleted.
type TransactionObjectChanges struct {
	Changed []ObjectRecord
	Deleted []ObjectRecord
}

// Checkpoint is one committed ledger checkpoint.
type Checkpoint struct {
	SequenceNumber           uint64
	Digest                   string
	Epoch                    uint64
	TimestampMs              uint64
	NetworkTotalTransactions uint64
	EndOfEpoch               bool
}

// Transaction is one executed transaction.
type Transaction struct {
	SequenceNumber uint64
	Digest         string
	Checkpoint     uint64
	TimestampMs    uint64
	Sender         types.Address
	RawTransaction []byte
	RawEffects     []byte
}

// MoveCall identifies one Move function invoked by a transaction.
type MoveCall struct {
	Package  types.Address
	Module   string
	Function string
}

// TxIndex holds the lookup keys of one transaction.
type TxIndex struct {
	TxSequenceNumber uint64
	Checkpoint       uint64
	Sender           types.Address
	Recipients       []types.Address
	InputObjects     []types.ObjectID
	ChangedObjects   []types.ObjectID
	MoveCalls        []MoveCall
}

// Event is one emitted Move event.
type Event struct {
	TxSequenceNumber    uint64
	EventSequenceNumber uint64
	Checkpoint          uint64
	TransactionDigest   string
	Sender              types.Address
	Package             types.Address
	Module              string
	EventType           string
	TimestampMs         uint64
	BCS                 []byte
}

// EventIndex holds the lookup keys of one event.
type EventIndex struct {
	TxSequenceNumber    uint64
	EventSequenceNumber uint64
	Checkpoint          uint64
	Sender              types.Address
	EmitPackage         types.Address
	EmitModule          string
	EventType           string
}

// Display is the display template registered for an object type.
// Only the highest version per type is retained.
type Display struct {
	ObjectType string
	ID         types.ObjectID
	Version    uint64
	BCS        []byte
}

// Package is a published Move package.
type Package struct {
	PackageID  types.Address
	Checkpoint uint64
	BCS        []byte
}

// EpochStart describes an epoch as it begins.
type EpochStart struct {
	Epoch             uint64
	FirstCheckpoint   uint64
	StartTimestampMs  uint64
	ReferenceGasPrice uint64
	ProtocolVersion   uint64
	TotalStake        uint64
}

// EpochEnd describes an epoch as it ends.
type EpochEnd struct {
	Epoch                    uint64
	LastCheckpoint           uint64
	EndTimestampMs           uint64
	EpochTotalTransactions   uint64
	NetworkTotalTransactions uint64
}

// EpochToCommit is an epoch boundary: the end of LastEpoch (nil at genesis)
// and the start of NewEpoch.
type EpochToCommit struct {
	LastEpoch *EpochEnd
	NewEpoch  EpochStart
}

// ProtocolConfig is one protocol config attribute for a protocol version.
// A nil Value means the attribute is unset in that version.
type ProtocolConfig struct {
	ProtocolVersion uint64
	Name            string
	Value           *string
}

// FeatureFlag is one feature flag for a protocol version.
type FeatureFlag struct {
	ProtocolVersion uint64
	Name            string
	Value           bool
}

// CheckpointBatch is everything one or more contiguous checkpoints wrote.
// CommitCheckpointBatch makes the whole batch visible at once.
type CheckpointBatch struct {
	Checkpoints   []Checkpoint
	Transactions  []Transaction
	TxIndices     []TxIndex
	Events        []Event
	EventIndices  []EventIndex
	Displays      map[string]Display
	Packages      []Package
	ObjectChanges []TransactionObjectChanges

	// Epoch is set when the last checkpoint of the batch ends an epoch.
	Epoch *EpochToCommit
}

// LastCheckpoint returns the highest checkpoint in the batch.
func (b CheckpointBatch) LastCheckpoint() (uint64, bool) {
	if len(b.Checkpoints) == 0 {
		return 0, false
	}
	return b.Checkpoints[len(b.Checkpoints)-1].SequenceNumber, true
}

// SnapshotMode is the maintenance mode that owns the object snapshot.
type SnapshotMode string

const (
	// SnapshotBackfill materializes snapshot rows directly from object
	// changes during historical catch-up.
	SnapshotBackfill SnapshotMode = "backfill"

	// SnapshotIncremental advances the snapshot over committed checkpoint
	// windows. Once entered, backfill is refused.
	SnapshotIncremental SnapshotMode = "incremental"
)

// int64Of converts an unsigned ledger number to the stored signed form.
func int64Of(op, field string, v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, newError(KindSchemaViolation, op, "%s %d exceeds the storable range", field, v)
	}
	return int64(v), nil
}
