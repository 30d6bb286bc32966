// Package testutil provides deterministic fixtures for store, committer and
// CLI tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/objidx/internal/secret"
	"github.com/roach88/objidx/internal/store"
	"github.com/roach88/objidx/internal/types"
)

// CoinType is the object type of every fixture object.
const CoinType = "0x2::coin::Coin<0x2::iota::IOTA>"

var unsafeDBName = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// NewStore opens a store in a per-test temp dir and closes it on cleanup.
// The database file is named after the test.
func NewStore(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	dsn, err := secret.ReplaceDBName(secret.New(filepath.Join(t.TempDir(), "objidx.db")), DBName(t))
	require.NoError(t, err)
	defer dsn.Zero()

	s, err := store.Open(dsn.Expose(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// DBName derives a database file name from the test name.
func DBName(t testing.TB) string {
	return unsafeDBName.ReplaceAllString(t.Name(), "_")
}

// Address returns the address n (0x1, 0x2, ...).
func Address(n int) types.Address {
	return types.MustParseAddress(fmt.Sprintf("0x%x", n))
}

// ObjectID returns the object id n.
func ObjectID(n int) types.ObjectID {
	return Address(n)
}

// Owned is a live coin version owned by owner with no previous owner.
// The checkpoint is left zero; CheckpointClock.NextBatch stamps it.
func Owned(id types.ObjectID, version uint64, owner types.Address) store.ObjectRecord {
	o := owner
	return store.ObjectRecord{
		ObjectID:     id,
		Version:      version,
		Digest:       fmt.Sprintf("digest-%s-%d", id.HexLiteral(), version),
		OwnerType:    types.OwnerAddress,
		OwnerAddress: &o,
		ObjectType:   CoinType,
		Status:       types.StatusActive,
		CoinType:     "0x2::iota::IOTA",
	}
}

// Transferred is a live version that moved from one address to another.
func Transferred(id types.ObjectID, version uint64, from, to types.Address) store.ObjectRecord {
	r := Owned(id, version, to)
	f := from
	r.OldOwnerType = types.OwnerAddress
	r.OldOwnerAddress = &f
	return r
}

// Removed is a non-live version last owned by oldOwner.
func Removed(id types.ObjectID, version uint64, status types.ObjectStatus, oldOwner types.Address) store.ObjectRecord {
	o := oldOwner
	return store.ObjectRecord{
		ObjectID:        id,
		Version:         version,
		Digest:          fmt.Sprintf("digest-%s-%d", id.HexLiteral(), version),
		OldOwnerType:    types.OwnerAddress,
		OldOwnerAddress: &o,
		Status:          status,
	}
}

// Changed groups live versions into one transaction.
func Changed(records ...store.ObjectRecord) store.TransactionObjectChanges {
	return store.TransactionObjectChanges{Changed: records}
}

// Deleted groups removed versions into one transaction.
func Deleted(records ...store.ObjectRecord) store.TransactionObjectChanges {
	return store.TransactionObjectChanges{Deleted: records}
}
