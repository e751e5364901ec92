package lsm

import (
	"testing"

	"gastrolog/internal/lsm/block"

	"github.com/stretchr/testify/require"
)

// TestMergeIteratorTieBreakFreshestWins mirrors the concrete scenario of
// three memtables (mutable, and two immutable snapshots behind it) all
// holding an entry for the same (key, revision), verifying the
// lowest-index (freshest) source always wins the tie.
func TestMergeIteratorTieBreakFreshestWins(t *testing.T) {
	mutable := []block.Entry{{Key: 1, Revision: 0, Position: 1}}
	immutable1 := []block.Entry{{Key: 1, Revision: 0, Position: 2}, {Key: 1, Revision: 1, Position: 3}}
	immutable2 := []block.Entry{{Key: 1, Revision: 0, Position: 4}}

	it := NewMergeIterator([][]block.Entry{mutable, immutable1, immutable2})
	got := it.Collect()

	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].Position, "freshest source must win the (key,revision) tie")
	require.Equal(t, uint64(0), got[0].Revision)
	require.Equal(t, uint64(3), got[1].Position)
	require.Equal(t, uint64(1), got[1].Revision)
}

func TestMergeIteratorOrdersAcrossKeysAndSources(t *testing.T) {
	a := []block.Entry{{Key: 1, Revision: 0}, {Key: 3, Revision: 0}}
	b := []block.Entry{{Key: 2, Revision: 0}}

	got := NewMergeIterator([][]block.Entry{a, b}).Collect()
	require.Len(t, got, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{got[0].Key, got[1].Key, got[2].Key})
}

func TestMergeIteratorEmptySources(t *testing.T) {
	got := NewMergeIterator([][]block.Entry{nil, {}, nil}).Collect()
	require.Empty(t, got)
}

func TestMergeIteratorIsIdempotentOnRepeatedCollect(t *testing.T) {
	a := []block.Entry{{Key: 1, Revision: 0}, {Key: 1, Revision: 1}}
	first := NewMergeIterator([][]block.Entry{a}).Collect()
	second := NewMergeIterator([][]block.Entry{a}).Collect()
	require.Equal(t, first, second)
}
