package lsm

import (
	"context"
	"testing"

	"gastrolog/internal/lsm/block"
	memstorage "gastrolog/internal/storage/memory"

	"github.com/stretchr/testify/require"
)

func TestRunCompactionPassAfterInlineCompaction(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	// MemtableMaxSize=1 flushes every put to its own level-0 SST;
	// LevelFanout=2 means the second flush already brings level 0 to its
	// fanout, and PutSingle's own post-flush compaction call merges it into
	// level 1; the third flush leaves one SST at level 0. RunCompactionPass
	// should be a safe no-op on top of that state, with every entry still
	// reachable.
	m, err := Open(ctx, Config{Storage: s, MemtableMaxSize: 1, LevelFanout: 2})
	require.NoError(t, err)

	require.NoError(t, m.PutSingle(ctx, block.Entry{Key: 1, Revision: 0, Position: 0}, 1))
	require.NoError(t, m.PutSingle(ctx, block.Entry{Key: 1, Revision: 1, Position: 1}, 2))
	require.NoError(t, m.PutSingle(ctx, block.Entry{Key: 1, Revision: 2, Position: 2}, 3))

	require.NoError(t, m.RunCompactionPass(ctx))

	e, ok, err := m.Get(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), e.Position)
}

func TestStartCompactionSchedulerStartsAndStops(t *testing.T) {
	ctx := context.Background()
	s := memstorage.New()

	m, err := Open(ctx, Config{Storage: s})
	require.NoError(t, err)

	sched, err := m.StartCompactionScheduler("", nil)
	require.NoError(t, err)
	require.NotNil(t, sched)

	require.NoError(t, sched.Stop())
}
