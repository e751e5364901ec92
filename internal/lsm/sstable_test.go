package lsm

import (
	"context"
	"testing"

	"gastrolog/internal/lsm/block"
	memstorage "gastrolog/internal/storage/memory"

	"github.com/stretchr/testify/require"
)

func TestBuildSSTAndFindAcrossBlocks(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	var entries []block.Entry
	for key := uint64(0); key < 50; key++ {
		for rev := uint64(0); rev < 3; rev++ {
			entries = append(entries, block.Entry{Key: key, Revision: rev, Position: key*100 + rev})
		}
	}

	id, err := BuildSST(ctx, s, entries, block.EntrySize*8, false)
	require.NoError(t, err)

	r := OpenSST(id, s)
	for _, e := range entries {
		got, ok, err := r.Find(ctx, e.Key, e.Revision)
		require.NoError(t, err)
		require.True(t, ok, "expected to find key=%d rev=%d", e.Key, e.Revision)
		require.Equal(t, e.Position, got.Position)
	}

	_, ok, err := r.Find(ctx, 999, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSSTHighestForKey(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	entries := []block.Entry{
		{Key: 1, Revision: 0, Position: 10},
		{Key: 1, Revision: 1, Position: 20},
		{Key: 1, Revision: 2, Position: 30},
		{Key: 2, Revision: 0, Position: 40},
	}

	id, err := BuildSST(ctx, s, entries, block.EntrySize*2, false)
	require.NoError(t, err)

	r := OpenSST(id, s)
	high, ok, err := r.HighestForKey(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), high.Revision)
	require.Equal(t, uint64(30), high.Position)

	_, ok, err = r.HighestForKey(ctx, 99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSSTAllEntriesPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	entries := []block.Entry{
		{Key: 1, Revision: 0},
		{Key: 1, Revision: 1},
		{Key: 2, Revision: 0},
	}
	id, err := BuildSST(ctx, s, entries, block.EntrySize, false)
	require.NoError(t, err)

	r := OpenSST(id, s)
	all, err := r.AllEntries(ctx)
	require.NoError(t, err)
	require.Equal(t, entries, all)
}

func TestBuildSSTCompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	var entries []block.Entry
	for key := uint64(0); key < 50; key++ {
		for rev := uint64(0); rev < 3; rev++ {
			entries = append(entries, block.Entry{Key: key, Revision: rev, Position: key*100 + rev})
		}
	}

	id, err := BuildSST(ctx, s, entries, block.EntrySize*8, true)
	require.NoError(t, err)

	r := OpenSST(id, s)
	for _, e := range entries {
		got, ok, err := r.Find(ctx, e.Key, e.Revision)
		require.NoError(t, err)
		require.True(t, ok, "expected to find key=%d rev=%d", e.Key, e.Revision)
		require.Equal(t, e.Position, got.Position)
	}

	all, err := r.AllEntries(ctx)
	require.NoError(t, err)
	require.Equal(t, entries, all)

	high, ok, err := r.HighestForKey(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), high.Revision)
}
