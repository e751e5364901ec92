package writing

import (
	"context"
	"testing"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/wal"
	memstorage "gastrolog/internal/storage/memory"

	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	revisions map[uint64]uint64
}

func (f *fakeIndex) HighestRevision(ctx context.Context, key uint64) (uint64, bool, error) {
	rev, ok := f.revisions[key]
	return rev, ok, nil
}

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	ctx := context.Background()
	s := memstorage.New()

	container, err := wal.Open(ctx, wal.Config{Storage: s, ChunkSize: 1 << 20})
	require.NoError(t, err)
	walWriter, err := wal.OpenWriter(ctx, wal.WriterConfig{Container: container, Storage: s})
	require.NoError(t, err)

	return New(walWriter, &fakeIndex{revisions: map[uint64]uint64{}}, nil)
}

func TestAppendToNewStreamWithNoStreamExpectation(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	res, err := w.Append(ctx, AppendRequest{
		StreamName: "orders-1",
		Expected:   gethdb.NoStream(),
		Events:     []gethdb.Event{{Class: "OrderPlaced", Data: []byte("a")}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.NextExpected)
	require.Equal(t, 1, res.CommittedCount)
}

func TestAppendRejectsWrongExpectedRevision(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendRequest{
		StreamName: "orders-1",
		Expected:   gethdb.ExpectRevision(5),
		Events:     []gethdb.Event{{Class: "OrderPlaced"}},
	})
	var wrongRev *gethdb.WrongExpectedRevisionError
	require.ErrorAs(t, err, &wrongRev)
}

func TestAppendSequenceAdvancesRevisions(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendRequest{StreamName: "s", Expected: gethdb.NoStream(), Events: []gethdb.Event{{Class: "A"}}})
	require.NoError(t, err)

	res, err := w.Append(ctx, AppendRequest{StreamName: "s", Expected: gethdb.ExpectRevision(0), Events: []gethdb.Event{{Class: "B"}, {Class: "C"}}})
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.NextExpected)
}

func TestDeleteTombstonesStreamAndRejectsFurtherAppends(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendRequest{StreamName: "s", Expected: gethdb.NoStream(), Events: []gethdb.Event{{Class: "A"}}})
	require.NoError(t, err)

	_, err = w.Delete(ctx, DeleteRequest{StreamName: "s", Expected: gethdb.ExpectRevision(0)})
	require.NoError(t, err)

	_, err = w.Append(ctx, AppendRequest{StreamName: "s", Expected: gethdb.Any(), Events: []gethdb.Event{{Class: "D"}}})
	require.ErrorIs(t, err, gethdb.ErrStreamDeleted)
}

func TestAppendAnyExpectationAlwaysSucceeds(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendRequest{StreamName: "s", Expected: gethdb.Any(), Events: []gethdb.Event{{Class: "A"}}})
	require.NoError(t, err)
	_, err = w.Append(ctx, AppendRequest{StreamName: "s", Expected: gethdb.Any(), Events: []gethdb.Event{{Class: "B"}}})
	require.NoError(t, err)
}

func TestAppendStreamExistsRequiresPriorWrite(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendRequest{StreamName: "s", Expected: gethdb.StreamExists(), Events: []gethdb.Event{{Class: "A"}}})
	var wrongRev *gethdb.WrongExpectedRevisionError
	require.ErrorAs(t, err, &wrongRev)
}
