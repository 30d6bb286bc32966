package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/types"
)

// seedTransfer commits:
//
//	cp0: object 1 v1 created for alice
//	cp1: object 1 v2 transferred alice -> bob
//	cp2: object 1 v3 deleted by bob
func seedTransfer(t *testing.T, s *Store) {
	t.Helper()
	commitCheckpoint(t, s, 0, changed(ownedObject(objectID(1), 1, 0, alice)))
	commitCheckpoint(t, s, 1, changed(transferredObject(objectID(1), 2, 1, alice, bob)))
	commitCheckpoint(t, s, 2, deleted(removedObject(objectID(1), 3, 2, types.StatusDeleted, bob)))
}

func TestQueryObjectsHistory_AsOfCheckpoint(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedTransfer(t, s)

	testCases := []struct {
		name       string
		owner      types.Address
		checkpoint uint64
		wantVer    []uint64
	}{
		{name: "alice owns v1 at cp0", owner: alice, checkpoint: 0, wantVer: []uint64{1}},
		{name: "bob owns nothing at cp0", owner: bob, checkpoint: 0, wantVer: nil},
		// v2's old owner is alice, so the inner pass admits it; the outer
		// pass rejects it because bob is the current owner.
		{name: "alice lost it at cp1", owner: alice, checkpoint: 1, wantVer: nil},
		{name: "bob owns v2 at cp1", owner: bob, checkpoint: 1, wantVer: []uint64{2}},
		{name: "deleted at cp2", owner: bob, checkpoint: 2, wantVer: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.QueryObjectsHistory(ctx, filter.AddressOwner{Address: tc.owner}, tc.checkpoint, nil, 10)
			require.NoError(t, err)
			var versions []uint64
			for _, r := range got {
				versions = append(versions, r.Version)
			}
			assert.Equal(t, tc.wantVer, versions)
		})
	}
}

func TestQueryObjectsHistory_ReturnsFullRecord(t *testing.T) {
	s := createTestStore(t)
	seedTransfer(t, s)

	got, err := s.QueryObjectsHistory(context.Background(), filter.ObjectID{ID: objectID(1)}, 1, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := transferredObject(objectID(1), 2, 1, alice, bob)
	want.BCS = got[0].BCS
	assert.Equal(t, want, got[0])
}

func TestQueryObjectsHistory_OutOfRange(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.QueryObjectsHistory(ctx, nil, 0, nil, 10)
	assert.ErrorIs(t, err, ErrOutOfRange, "empty store")

	seedTransfer(t, s)
	_, err = s.QueryObjectsHistory(ctx, nil, 3, nil, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.False(t, IsFatal(err))
}

func TestQueryObjectsHistory_InvalidLimit(t *testing.T) {
	s := createTestStore(t)
	seedTransfer(t, s)

	_, err := s.QueryObjectsHistory(context.Background(), nil, 0, nil, 0)
	assert.Error(t, err)
}

func TestQueryObjectsHistory_CursorRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var created, removed []ObjectRecord
	for i := 1; i <= 9; i++ {
		created = append(created, ownedObject(objectID(i), 1, 0, alice))
	}
	commitCheckpoint(t, s, 0, changed(created...))
	for _, i := range []int{3, 6} {
		removed = append(removed, removedObject(objectID(i), 2, 1, types.StatusWrapped, alice))
	}
	commitCheckpoint(t, s, 1, deleted(removed...))

	full, err := s.QueryObjectsHistory(ctx, nil, 1, nil, 100)
	require.NoError(t, err)
	require.Len(t, full, 7)

	var paged []ObjectRecord
	var cursor *types.ObjectID
	for pages := 0; pages < 10; pages++ {
		page, err := s.QueryObjectsHistory(ctx, nil, 1, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			if cursor != nil {
				assert.Greater(t, r.ObjectID.String(), cursor.String(), "cursor must exclude ids <= itself")
			}
		}
		paged = append(paged, page...)
		last := page[len(page)-1].ObjectID
		cursor = &last
	}

	assert.Equal(t, idsOf(full), idsOf(paged), "pages must concatenate to the unpaginated result")
	for i := 1; i < len(paged); i++ {
		assert.Less(t, paged[i-1].ObjectID.String(), paged[i].ObjectID.String())
	}
}

func TestQueryObjectsHistory_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	plain := ownedObject(objectID(1), 1, 0, alice)
	plain.ObjectType = "0x2::coin::Coin"
	generic := ownedObject(objectID(2), 4, 0, alice)
	other := ownedObject(objectID(3), 1, 0, bob)
	other.ObjectType = "0x3::staking::StakedIota"
	commitCheckpoint(t, s, 0, changed(plain, generic, other))

	all := []types.ObjectID{objectID(1), objectID(2), objectID(3)}
	testCases := []struct {
		name   string
		filter filter.ObjectFilter
		want   []types.ObjectID
	}{
		{name: "no filter", filter: nil, want: all},
		{name: "empty MatchAll", filter: filter.All(), want: all},
		{name: "empty MatchAny", filter: filter.Any(), want: nil},
		{name: "empty ObjectIds", filter: filter.ObjectIDs{}, want: all},
		{name: "package", filter: filter.Package{ID: types.MustParseAddress("0x2")}, want: all[:2]},
		{name: "module", filter: filter.MoveModule{Package: types.MustParseAddress("0x3"), Module: "staking"}, want: all[2:]},
		{name: "invalid module", filter: filter.MoveModule{Package: types.MustParseAddress("0x2"), Module: "co%"}, want: nil},
		{name: "struct prefix", filter: filter.StructType{Tag: types.MustParseStructTag("0x2::coin::Coin")}, want: all[:2]},
		{name: "struct exact", filter: filter.StructType{Tag: types.MustParseStructTag(coinType)}, want: all[1:2]},
		{name: "version", filter: filter.Version{Version: 4}, want: all[1:2]},
		{name: "object ids", filter: filter.ObjectIDs{IDs: []types.ObjectID{objectID(3), objectID(1)}}, want: []types.ObjectID{objectID(1), objectID(3)}},
		{name: "none", filter: filter.None(filter.Version{Version: 4}), want: []types.ObjectID{objectID(1), objectID(3)}},
		{
			name:   "composite",
			filter: filter.All(filter.AddressOwner{Address: alice}, filter.None(filter.Version{Version: 4})),
			want:   all[:1],
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.QueryObjectsHistory(ctx, tc.filter, 0, nil, 10)
			require.NoError(t, err)
			want := tc.want
			if want == nil {
				want = []types.ObjectID{}
			}
			assert.Equal(t, want, idsOf(got))
		})
	}
}

func TestQueryLatestObjects(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	commitCheckpoint(t, s, 0, changed(ownedObject(objectID(1), 1, 0, alice), ownedObject(objectID(2), 1, 0, alice)))
	commitCheckpoint(t, s, 1,
		changed(transferredObject(objectID(1), 2, 1, alice, bob)),
		deleted(removedObject(objectID(2), 2, 1, types.StatusDeleted, alice)),
	)

	got, err := s.QueryLatestObjects(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Version)

	got, err = s.QueryLatestObjects(ctx, filter.AddressOwner{Address: alice}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.QueryLatestObjects(ctx, filter.AddressOwner{Address: bob}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Unsupported leaves are ignored, not errors.
	got, err = s.QueryLatestObjects(ctx, filter.Version{Version: 99}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPersistObjects_NeverRegresses(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistObjects(ctx, []TransactionObjectChanges{changed(ownedObject(objectID(1), 5, 3, bob))}))
	require.NoError(t, s.PersistObjects(ctx, []TransactionObjectChanges{changed(ownedObject(objectID(1), 4, 2, alice))}))
	// A stale removal does not drop the newer version either.
	require.NoError(t, s.PersistObjects(ctx, []TransactionObjectChanges{deleted(removedObject(objectID(1), 3, 1, types.StatusDeleted, alice))}))

	got, err := s.QueryLatestObjects(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].Version)
	assert.Equal(t, bob, *got[0].OwnerAddress)
}

func TestPersistObjectHistory_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	changes := []TransactionObjectChanges{
		changed(ownedObject(objectID(1), 1, 0, alice)),
		deleted(removedObject(objectID(1), 2, 0, types.StatusUnwrappedThenDeleted, alice)),
	}
	require.NoError(t, s.PersistObjectHistory(ctx, changes))
	require.NoError(t, s.PersistObjectHistory(ctx, changes))
	assert.Equal(t, 2, countRows(t, s, "objects_history"))
}

func TestPersistObjects_CanonicalType(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := ownedObject(objectID(1), 1, 0, alice)
	r.ObjectType = "0x0000000000000000000000000000000000000000000000000000000000000002::coin::Coin<0x2::iota::IOTA>"
	commitCheckpoint(t, s, 0, changed(r))

	got, err := s.QueryObjectsHistory(ctx, filter.Package{ID: types.MustParseAddress("0x2")}, 0, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, coinType, got[0].ObjectType)
}

func TestPersistObjects_SchemaViolations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	badType := ownedObject(objectID(1), 1, 0, alice)
	badType.ObjectType = "0x2::coin::Coin'; DROP TABLE objects; --"

	huge := ownedObject(objectID(1), math.MaxUint64, 0, alice)

	badOwner := ownedObject(objectID(1), 1, 0, alice)
	badOwner.OwnerType = "someone"

	testCases := []struct {
		name    string
		changes TransactionObjectChanges
	}{
		{name: "malformed type", changes: changed(badType)},
		{name: "version overflow", changes: changed(huge)},
		{name: "unknown owner type", changes: changed(badOwner)},
		{name: "dead object filed as changed", changes: changed(removedObject(objectID(1), 1, 0, types.StatusDeleted, alice))},
		{name: "live object filed as deleted", changes: deleted(ownedObject(objectID(1), 1, 0, alice))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.PersistObjectHistory(ctx, []TransactionObjectChanges{tc.changes})
			assert.ErrorIs(t, err, ErrSchemaViolation)
			assert.True(t, IsFatal(err))
		})
	}
	assert.Equal(t, 0, countRows(t, s, "objects_history"))
}

func TestQueryObjectsHistory_MatchNoneKeepsAbsentColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	created := ownedObject(objectID(1), 1, 0, bob)
	moved := transferredObject(objectID(2), 1, 0, alice, bob)
	untyped := ownedObject(objectID(3), 1, 0, bob)
	untyped.ObjectType = ""
	untyped.CoinType = ""
	commitCheckpoint(t, s, 0, changed(created, moved, untyped))

	got, err := s.QueryObjectsHistory(ctx, filter.None(filter.AddressOwner{Address: alice}), 0, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(1), objectID(3)}, idsOf(got), "objects with no old owner are not owned by alice")

	got, err = s.QueryObjectsHistory(ctx, filter.None(filter.Package{ID: types.MustParseAddress("0x2")}), 0, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(3)}, idsOf(got), "an absent object type matches no package")

	got, err = s.QueryObjectsHistory(ctx, filter.ObjectID{ID: objectID(3)}, 0, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].OldOwnerAddress)
	assert.Empty(t, got[0].ObjectType)
}

func TestQueryObjectsHistory_StructTypePrefixMatchesLongerNames(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	coin := ownedObject(objectID(1), 1, 0, alice)
	metadata := ownedObject(objectID(2), 1, 0, alice)
	metadata.ObjectType = "0x2::coin::CoinMetadata<0x2::iota::IOTA>"
	commitCheckpoint(t, s, 0, changed(coin, metadata))

	got, err := s.QueryObjectsHistory(ctx, filter.StructType{Tag: types.MustParseStructTag("0x2::coin::Coin")}, 0, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(1), objectID(2)}, idsOf(got), "an uninstantiated tag is a name prefix")

	got, err = s.QueryObjectsHistory(ctx, filter.StructType{Tag: types.MustParseStructTag(coinType)}, 0, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(1)}, idsOf(got), "an instantiated tag matches exactly")
}
