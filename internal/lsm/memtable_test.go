package lsm

import (
	"testing"

	"gastrolog/internal/lsm/block"

	"github.com/stretchr/testify/require"
)

func TestMemtablePutGetHighest(t *testing.T) {
	m := NewMemtable()
	m.Put(block.Entry{Key: 1, Revision: 0, Position: 100})
	m.Put(block.Entry{Key: 1, Revision: 1, Position: 200})
	m.Put(block.Entry{Key: 2, Revision: 0, Position: 300})

	e, ok := m.Get(1, 1)
	require.True(t, ok)
	require.Equal(t, uint64(200), e.Position)

	_, ok = m.Get(1, 5)
	require.False(t, ok)

	high, ok := m.HighestRevision(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), high.Revision)

	_, ok = m.HighestRevision(99)
	require.False(t, ok)
}

func TestMemtablePutOverwritesSameRevision(t *testing.T) {
	m := NewMemtable()
	m.Put(block.Entry{Key: 1, Revision: 0, Position: 10})
	m.Put(block.Entry{Key: 1, Revision: 0, Position: 99})

	e, ok := m.Get(1, 0)
	require.True(t, ok)
	require.Equal(t, uint64(99), e.Position)
}

func TestMemtableScanForwardAndBackward(t *testing.T) {
	m := NewMemtable()
	for rev := uint64(0); rev < 5; rev++ {
		m.Put(block.Entry{Key: 1, Revision: rev, Position: rev * 10})
	}

	fwd := m.Scan(1, 2, true, 10)
	require.Len(t, fwd, 3)
	require.Equal(t, uint64(2), fwd[0].Revision)
	require.Equal(t, uint64(4), fwd[2].Revision)

	bwd := m.Scan(1, 2, false, 10)
	require.Len(t, bwd, 3)
	require.Equal(t, uint64(2), bwd[0].Revision)
	require.Equal(t, uint64(0), bwd[2].Revision)

	capped := m.Scan(1, 0, true, 2)
	require.Len(t, capped, 2)
}

func TestMemtableAllSortedByKeyThenRevision(t *testing.T) {
	m := NewMemtable()
	m.Put(block.Entry{Key: 2, Revision: 0})
	m.Put(block.Entry{Key: 1, Revision: 1})
	m.Put(block.Entry{Key: 1, Revision: 0})

	all := m.All()
	require.Len(t, all, 3)
	require.Equal(t, uint64(1), all[0].Key)
	require.Equal(t, uint64(0), all[0].Revision)
	require.Equal(t, uint64(1), all[1].Key)
	require.Equal(t, uint64(1), all[1].Revision)
	require.Equal(t, uint64(2), all[2].Key)
}
