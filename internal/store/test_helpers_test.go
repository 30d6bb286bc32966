package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/objidx/internal/types"
)

const coinType = "0x2::coin::Coin<0x2::iota::IOTA>"

var (
	alice = types.MustParseAddress("0xa11ce")
	bob   = types.MustParseAddress("0xb0b")
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// objectID returns the test object id n (0x1, 0x2, ...).
func objectID(n int) types.ObjectID {
	return types.MustParseAddress(fmt.Sprintf("0x%x", n))
}

// ownedObject creates a live coin version owned by owner.
// The old owner is left unset, as for a freshly created object.
func ownedObject(id types.ObjectID, version, cp uint64, owner types.Address) ObjectRecord {
	o := owner
	return ObjectRecord{
		ObjectID:     id,
		Version:      version,
		Digest:       fmt.Sprintf("digest-%s-%d", id.HexLiteral(), version),
		Checkpoint:   cp,
		OwnerType:    types.OwnerAddress,
		OwnerAddress: &o,
		ObjectType:   coinType,
		Status:       types.StatusActive,
		CoinType:     "0x2::iota::IOTA",
	}
}

// transferredObject creates a live version that moved from one owner to another.
func transferredObject(id types.ObjectID, version, cp uint64, from, to types.Address) ObjectRecord {
	r := ownedObject(id, version, cp, to)
	f := from
	r.OldOwnerType = types.OwnerAddress
	r.OldOwnerAddress = &f
	return r
}

// removedObject creates a non-live version whose last owner was oldOwner.
func removedObject(id types.ObjectID, version, cp uint64, status types.ObjectStatus, oldOwner types.Address) ObjectRecord {
	o := oldOwner
	return ObjectRecord{
		ObjectID:        id,
		Version:         version,
		Digest:          fmt.Sprintf("digest-%s-%d", id.HexLiteral(), version),
		Checkpoint:      cp,
		OldOwnerType:    types.OwnerAddress,
		OldOwnerAddress: &o,
		Status:          status,
	}
}

func changed(records ...ObjectRecord) TransactionObjectChanges {
	return TransactionObjectChanges{Changed: records}
}

func deleted(records ...ObjectRecord) TransactionObjectChanges {
	return TransactionObjectChanges{Deleted: records}
}

// testCheckpoint creates a checkpoint with a digest derived from seq.
func testCheckpoint(seq, epoch uint64) Checkpoint {
	return Checkpoint{
		SequenceNumber:           seq,
		Digest:                   fmt.Sprintf("cp-%d", seq),
		Epoch:                    epoch,
		TimestampMs:              1_700_000_000_000 + seq*1000,
		NetworkTotalTransactions: seq + 1,
	}
}

// commitCheckpoint commits a single epoch-0 checkpoint carrying changes.
func commitCheckpoint(t *testing.T, s *Store, seq uint64, changes ...TransactionObjectChanges) {
	t.Helper()
	err := s.CommitCheckpointBatch(context.Background(), CheckpointBatch{
		Checkpoints:   []Checkpoint{testCheckpoint(seq, 0)},
		ObjectChanges: changes,
	})
	require.NoError(t, err)
}

// countRows returns the number of rows in table.
func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	require.NoError(t, err)
	return n
}

// idsOf returns the object ids of records in order.
func idsOf(records []ObjectRecord) []types.ObjectID {
	ids := make([]types.ObjectID, len(records))
	for i, r := range records {
		ids[i] = r.ObjectID
	}
	return ids
}
