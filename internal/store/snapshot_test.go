package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/types"
)

// seedSnapshotHistory commits:
//
//	cp0: objects 1 and 2 created for alice
//	cp1: object 1 moves to bob, object 2 is deleted
//	cp2: object 3 created for bob
func seedSnapshotHistory(t *testing.T, s *Store) {
	t.Helper()
	commitCheckpoint(t, s, 0, changed(ownedObject(objectID(1), 1, 0, alice), ownedObject(objectID(2), 1, 0, alice)))
	commitCheckpoint(t, s, 1,
		changed(transferredObject(objectID(1), 2, 1, alice, bob)),
		deleted(removedObject(objectID(2), 2, 1, types.StatusDeleted, alice)),
	)
	commitCheckpoint(t, s, 2, changed(ownedObject(objectID(3), 1, 2, bob)))
}

func TestUpdateObjectsSnapshot_Advances(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSnapshotHistory(t, s)

	_, ok, err := s.GetLatestObjectSnapshotCheckpointSequenceNumber(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 0, 2))

	snap, err := s.ObjectsSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, objectID(1), snap[0].ObjectID)
	assert.Equal(t, uint64(2), snap[0].Version)

	frontier, ok, err := s.GetLatestObjectSnapshotCheckpointSequenceNumber(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), frontier)

	mode, ok, err := s.SnapshotMode(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, SnapshotIncremental, mode)

	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 2, 3))
	snap, err = s.ObjectsSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(1), objectID(3)}, idsOf(snap))
}

func TestUpdateObjectsSnapshot_RemovesObjectsDeletedLater(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	commitCheckpoint(t, s, 0, changed(ownedObject(objectID(1), 1, 0, alice)))
	commitCheckpoint(t, s, 1, deleted(removedObject(objectID(1), 2, 1, types.StatusWrapped, alice)))

	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 0, 1))
	snap, err := s.ObjectsSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 1, 2))
	snap, err = s.ObjectsSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestUpdateObjectsSnapshot_InvalidWindows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSnapshotHistory(t, s)
	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 0, 2))

	testCases := []struct {
		name       string
		start, end uint64
	}{
		{name: "overlaps frontier", start: 1, end: 3},
		{name: "leaves a gap", start: 3, end: 3},
		{name: "past committed checkpoints", start: 2, end: 4},
		{name: "inverted", start: 3, end: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.UpdateObjectsSnapshot(ctx, tc.start, tc.end)
			assert.ErrorIs(t, err, ErrInvalidSnapshotWindow)
		})
	}

	// An empty window at the frontier changes nothing.
	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 2, 2))
	frontier, _, err := s.GetLatestObjectSnapshotCheckpointSequenceNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frontier)
}

func TestUpdateObjectsSnapshot_RequiresCommittedCheckpoints(t *testing.T) {
	s := createTestStore(t)

	err := s.UpdateObjectsSnapshot(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrInvalidSnapshotWindow)
}

func TestBackfillObjectsSnapshot_ThenIncremental(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Backfill runs ahead of checkpoint commit.
	require.NoError(t, s.BackfillObjectsSnapshot(ctx, []TransactionObjectChanges{
		changed(ownedObject(objectID(1), 1, 0, alice), ownedObject(objectID(2), 1, 0, alice)),
	}))
	require.NoError(t, s.BackfillObjectsSnapshot(ctx, []TransactionObjectChanges{
		changed(transferredObject(objectID(1), 2, 1, alice, bob)),
		deleted(removedObject(objectID(2), 2, 1, types.StatusDeleted, alice)),
	}))

	mode, _, err := s.SnapshotMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, SnapshotBackfill, mode)
	frontier, ok, err := s.GetLatestObjectSnapshotCheckpointSequenceNumber(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), frontier)

	snap, err := s.ObjectsSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(1)}, idsOf(snap))

	seedSnapshotHistory(t, s)
	assert.ErrorIs(t, s.UpdateObjectsSnapshot(ctx, 0, 3), ErrInvalidSnapshotWindow)
	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 2, 3))

	snap, err = s.ObjectsSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(1), objectID(3)}, idsOf(snap))

	// The modes never interleave.
	err = s.BackfillObjectsSnapshot(ctx, []TransactionObjectChanges{changed(ownedObject(objectID(4), 1, 3, alice))})
	assert.ErrorIs(t, err, ErrInvalidSnapshotWindow)
	snap, err = s.ObjectsSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
}

func TestQuerySnapshotObjects(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSnapshotHistory(t, s)
	require.NoError(t, s.UpdateObjectsSnapshot(ctx, 0, 2))

	// The live relation already has object 3; the snapshot lags behind.
	latest, err := s.QueryLatestObjects(ctx, filter.AddressOwner{Address: bob}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, latest, 2)

	snap, err := s.QuerySnapshotObjects(ctx, filter.AddressOwner{Address: bob}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{objectID(1)}, idsOf(snap))

	cursor := objectID(1)
	snap, err = s.QuerySnapshotObjects(ctx, nil, &cursor, 10)
	require.NoError(t, err)
	assert.Empty(t, snap)
}
