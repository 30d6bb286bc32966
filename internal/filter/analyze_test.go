package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objidx/internal/types"
)

func TestAnalyze_TopLevelAddressOwner(t *testing.T) {
	a := Analyze(AddressOwner{Address: types.MustParseAddress("0x1")})

	assert.True(t, a.SnapshotExact)
	assert.Empty(t, a.Warnings)
	assert.Equal(t, 1, a.Leaves)
	assert.Equal(t, 0, a.Depth)
}

func TestAnalyze_NilFilter(t *testing.T) {
	a := Analyze(nil)
	assert.True(t, a.SnapshotExact)
	assert.Equal(t, 0, a.Leaves)
}

func TestAnalyze_NestedAddressOwnerIgnored(t *testing.T) {
	a := Analyze(All(AddressOwner{Address: types.MustParseAddress("0x1")}))

	assert.False(t, a.SnapshotExact)
	require.Len(t, a.Warnings, 1)
	assert.Contains(t, a.Warnings[0], "MatchAll is ignored")
}

func TestAnalyze_LeafIgnored(t *testing.T) {
	a := Analyze(Version{Version: 3})

	assert.False(t, a.SnapshotExact)
	require.Len(t, a.Warnings, 1)
	assert.Contains(t, a.Warnings[0], "Version is ignored")
}

func TestAnalyze_CountsAndDepth(t *testing.T) {
	f := All(
		ObjectID{ID: types.MustParseAddress("0x5")},
		Any(
			Version{Version: 1},
			None(Package{ID: types.MustParseAddress("0x2")}),
		),
		Any(),
	)
	a := Analyze(f)

	assert.Equal(t, 3, a.Leaves)
	assert.Equal(t, 3, a.Depth)
}
