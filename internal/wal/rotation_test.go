package wal

import (
	"context"
	"testing"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/storage"
	memstorage "gastrolog/internal/storage/memory"

	"github.com/stretchr/testify/require"
)

func TestRecordCountPolicyForcesRotationBeforeSizeBoundary(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	// ChunkSize is large enough that size alone would never force a
	// rotation across these three small entries.
	container, err := Open(ctx, Config{Storage: s, ChunkSize: 1 << 20})
	require.NoError(t, err)

	writer, err := OpenWriter(ctx, WriterConfig{
		Container: container,
		Storage:   s,
		Rotation:  NewRecordCountPolicy(1),
	})
	require.NoError(t, err)

	provider := &testProvider{entries: []Entry{
		{Type: gethdb.LogEntryUserData, Payload: []byte("a")},
		{Type: gethdb.LogEntryUserData, Payload: []byte("b")},
		{Type: gethdb.LogEntryUserData, Payload: []byte("c")},
	}}
	_, err = writer.Append(ctx, provider)
	require.NoError(t, err)

	chunkIDs, err := s.List(ctx, storage.CategoryChunk)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunkIDs), 3, "one record per chunk should force 3 distinct chunks")
}

func TestCompositeRotationPolicyOrSemantics(t *testing.T) {
	never := RotationPolicyFunc(func(ActiveChunkState, Entry) bool { return false })
	always := RotationPolicyFunc(func(ActiveChunkState, Entry) bool { return true })

	require.False(t, NewCompositeRotationPolicy(never).ShouldRotate(ActiveChunkState{}, Entry{}))
	require.True(t, NewCompositeRotationPolicy(never, always).ShouldRotate(ActiveChunkState{}, Entry{}))
}

func TestRecordCountPolicyDisabledAtZero(t *testing.T) {
	p := NewRecordCountPolicy(0)
	require.False(t, p.ShouldRotate(ActiveChunkState{Records: 1000}, Entry{}))
}
