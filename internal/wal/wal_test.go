package wal

import (
	"context"
	"testing"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/storage"
	memstorage "gastrolog/internal/storage/memory"

	"github.com/stretchr/testify/require"
)

func TestChunkPositionArithmetic(t *testing.T) {
	c := NewChunk(2, 4096)
	require.Equal(t, uint64(2*4096), c.StartPosition())
	require.Equal(t, uint64(3*4096), c.EndPosition())
	require.True(t, c.ContainsLogPosition(2*4096))
	require.True(t, c.ContainsLogPosition(3*4096-1))
	require.False(t, c.ContainsLogPosition(3*4096))
	require.Equal(t, uint64(4096), c.RemainingSpaceFrom(2*4096))
	require.Equal(t, uint64(0), c.RemainingSpaceFrom(3*4096))
	require.Equal(t, uint64(HeaderSize), c.RawPosition(2*4096))
}

func TestFramedEntryRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	framed := EncodeFramed(gethdb.LogEntryUserData, payload)

	entry, err := DecodeFramed(framed, 42)
	require.NoError(t, err)
	require.Equal(t, gethdb.LogEntryUserData, entry.Type)
	require.Equal(t, payload, entry.Payload)
	require.Equal(t, uint64(42), entry.Position)
}

func TestFramedEntryCorruption(t *testing.T) {
	framed := EncodeFramed(gethdb.LogEntryUserData, []byte("data"))
	// Flip a bit in the trailing length.
	framed[len(framed)-1] ^= 0xFF

	_, err := DecodeFramed(framed, 0)
	require.ErrorIs(t, err, gethdb.ErrCorruption)
}

type testProvider struct {
	entries   []Entry
	idx       int
	committed []uint64
}

func (p *testProvider) Next() (Entry, bool) {
	if p.idx >= len(p.entries) {
		return Entry{}, false
	}
	e := p.entries[p.idx]
	p.idx++
	return e, true
}

func (p *testProvider) Commit(_ Entry, position uint64) error {
	p.committed = append(p.committed, position)
	return nil
}

func TestWriterReaderRoundTripAcrossChunks(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	container, err := Open(ctx, Config{Storage: s, ChunkSize: 4096})
	require.NoError(t, err)

	writer, err := OpenWriter(ctx, WriterConfig{Container: container, Storage: s})
	require.NoError(t, err)

	reader := NewReader(container, s)

	var provider testProvider
	for i := 0; i < 100; i++ {
		provider.entries = append(provider.entries, Entry{
			Type:    gethdb.LogEntryUserData,
			Payload: make([]byte, 200),
		})
	}

	receipt, err := writer.Append(ctx, &provider)
	require.NoError(t, err)
	require.Equal(t, uint64(0), receipt.StartPosition)
	require.Len(t, provider.committed, 100)

	entries, err := reader.Entries(ctx, 0, receipt.NextPosition)
	require.NoError(t, err)
	require.Len(t, entries, 100)

	for i, e := range entries {
		require.Equal(t, 200, len(e.Payload))
		require.Equal(t, provider.committed[i], e.Position)
	}

	chunkIDs, err := s.List(ctx, storage.CategoryChunk)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunkIDs), 5)
}

func TestWriterCheckpointPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	container, err := Open(ctx, Config{Storage: s, ChunkSize: 65536})
	require.NoError(t, err)
	writer, err := OpenWriter(ctx, WriterConfig{Container: container, Storage: s})
	require.NoError(t, err)

	provider := &testProvider{entries: []Entry{{Type: gethdb.LogEntryUserData, Payload: []byte("a")}}}
	receipt, err := writer.Append(ctx, provider)
	require.NoError(t, err)

	reopened, err := OpenWriter(ctx, WriterConfig{Container: container, Storage: s})
	require.NoError(t, err)
	require.Equal(t, receipt.NextPosition, reopened.Position())
}
