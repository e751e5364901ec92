package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{Key: 7, Revision: 3, Position: 4096}
	buf := e.Encode(nil)
	require.Len(t, buf, EntrySize)
	require.Equal(t, e, DecodeEntry(buf))
}

func TestBlockFindBinarySearch(t *testing.T) {
	var buf []byte
	want := []Entry{
		{Key: 1, Revision: 0, Position: 10},
		{Key: 1, Revision: 1, Position: 20},
		{Key: 2, Revision: 0, Position: 30},
		{Key: 5, Revision: 9, Position: 40},
	}
	for _, e := range want {
		buf = e.Encode(buf)
	}
	b := Block(buf)

	require.Equal(t, 4, b.Len())
	for _, e := range want {
		got, ok := b.Find(e.Key, e.Revision)
		require.True(t, ok)
		require.Equal(t, e, got)
	}

	_, ok := b.Find(1, 2)
	require.False(t, ok)
	_, ok = b.Find(3, 0)
	require.False(t, ok)
}

func TestBlockLowerBound(t *testing.T) {
	var buf []byte
	entries := []Entry{
		{Key: 1, Revision: 0},
		{Key: 1, Revision: 5},
		{Key: 3, Revision: 0},
	}
	for _, e := range entries {
		buf = e.Encode(buf)
	}
	b := Block(buf)

	require.Equal(t, 0, b.LowerBound(1, 0))
	require.Equal(t, 1, b.LowerBound(1, 1))
	require.Equal(t, 2, b.LowerBound(2, 0))
	require.Equal(t, 2, b.LowerBound(3, 0))
	require.Equal(t, 3, b.LowerBound(4, 0))
}

func TestBuilderFlushesAtTargetSize(t *testing.T) {
	b := NewBuilder(EntrySize * 2)
	require.True(t, b.Empty())

	require.False(t, b.Add(Entry{Key: 1, Revision: 0, Position: 1}))
	require.Equal(t, uint64(1), b.FirstKey())
	require.True(t, b.Add(Entry{Key: 1, Revision: 1, Position: 2}))

	blk := b.Take()
	require.Equal(t, 2, blk.Len())
	require.True(t, b.Empty())
}
