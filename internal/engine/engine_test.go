package engine

import (
	"context"
	"testing"
	"time"

	"gastrolog/internal/config"
	"gastrolog/internal/gethdb"
	memstorage "gastrolog/internal/storage/memory"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{ChunkSize: 1 << 20, MemTableMaxSize: 1 << 20, SSTableMaxCount: 4}
	e, err := Open(ctx, cfg, memstorage.New(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Close(shutdownCtx)
	})
	return e
}

func TestAppendThenReadRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AppendToStream(ctx, "orders-1", gethdb.NoStream(), []gethdb.Event{
		{Class: "OrderPlaced", Data: []byte("first")},
		{Class: "OrderShipped", Data: []byte("second")},
	})
	require.NoError(t, err)

	var got []gethdb.Record
	err = e.ReadStream(ctx, "orders-1", gethdb.AtStart(), gethdb.Forward, 10, func(r gethdb.Record) bool {
		got = append(got, r)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "OrderPlaced", got[0].Class)
	require.Equal(t, "OrderShipped", got[1].Class)
}

func TestAppendWrongExpectedRevisionSurfaces(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AppendToStream(ctx, "orders-1", gethdb.ExpectRevision(3), []gethdb.Event{{Class: "X"}})
	var wrongRev *gethdb.WrongExpectedRevisionError
	require.ErrorAs(t, err, &wrongRev)
}

func TestDeleteThenAppendIsRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AppendToStream(ctx, "orders-1", gethdb.NoStream(), []gethdb.Event{{Class: "X"}})
	require.NoError(t, err)

	_, err = e.DeleteStream(ctx, "orders-1", gethdb.ExpectRevision(0))
	require.NoError(t, err)

	_, err = e.AppendToStream(ctx, "orders-1", gethdb.Any(), []gethdb.Event{{Class: "Y"}})
	require.ErrorIs(t, err, gethdb.ErrStreamDeleted)
}

func TestDeleteThenReadStreamReturnsStreamDeleted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AppendToStream(ctx, "orders-1", gethdb.NoStream(), []gethdb.Event{{Class: "X"}})
	require.NoError(t, err)

	_, err = e.DeleteStream(ctx, "orders-1", gethdb.ExpectRevision(0))
	require.NoError(t, err)

	err = e.ReadStream(ctx, "orders-1", gethdb.AtStart(), gethdb.Forward, 10, func(gethdb.Record) bool {
		t.Fatal("a deleted stream must not yield any records")
		return false
	})
	require.ErrorIs(t, err, gethdb.ErrStreamDeleted)
}

// TestDeleteThenReadStreamIsRejectedAfterRestart guards against the
// tombstone surviving only in the writer's in-memory cache: it reopens the
// engine over the same storage (simulating a restart, so the cache starts
// empty) and checks the index itself durably records the deletion.
func TestDeleteThenReadStreamIsRejectedAfterRestart(t *testing.T) {
	ctx := context.Background()
	store := memstorage.New()
	// A memtable size of 1 forces every indexed batch to flush straight to
	// an SST, so the tombstone is durable in the manifest rather than
	// sitting unflushed in memory when the engine is reopened below.
	cfg := &config.Config{ChunkSize: 1 << 20, MemTableMaxSize: 1, SSTableMaxCount: 4}

	e, err := Open(ctx, cfg, store, nil, nil)
	require.NoError(t, err)

	_, err = e.AppendToStream(ctx, "orders-1", gethdb.NoStream(), []gethdb.Event{{Class: "X"}})
	require.NoError(t, err)
	_, err = e.DeleteStream(ctx, "orders-1", gethdb.ExpectRevision(0))
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	require.NoError(t, e.Close(shutdownCtx))
	cancel()

	reopened, err := Open(ctx, cfg, store, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reopened.Close(shutdownCtx)
	})

	_, err = reopened.AppendToStream(ctx, "orders-1", gethdb.Any(), []gethdb.Event{{Class: "Y"}})
	require.ErrorIs(t, err, gethdb.ErrStreamDeleted)

	err = reopened.ReadStream(ctx, "orders-1", gethdb.AtStart(), gethdb.Forward, 10, func(gethdb.Record) bool {
		t.Fatal("a deleted stream must not yield any records")
		return false
	})
	require.ErrorIs(t, err, gethdb.ErrStreamDeleted)
}

func TestReadAllStreamSequentiallyScansEveryStream(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AppendToStream(ctx, "orders-1", gethdb.NoStream(), []gethdb.Event{{Class: "A"}})
	require.NoError(t, err)
	_, err = e.AppendToStream(ctx, "orders-2", gethdb.NoStream(), []gethdb.Event{{Class: "B"}})
	require.NoError(t, err)

	var got []gethdb.Record
	err = e.ReadStream(ctx, gethdb.AllStream, gethdb.AtStart(), gethdb.Forward, 10, func(r gethdb.Record) bool {
		got = append(got, r)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "orders-1", got[0].StreamName)
	require.Equal(t, "orders-2", got[1].StreamName)
}

func TestSubscriptionReceivesPublishedAppends(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	received := make(chan gethdb.Record, 1)
	_, err := e.SubscribeToStream(ctx, gethdb.SystemStream, func(r gethdb.Record) error {
		if r.Class == gethdb.EventsWrittenClass {
			select {
			case received <- r:
			default:
			}
		}
		return nil
	})
	require.NoError(t, err)

	_, err = e.AppendToStream(ctx, "orders-1", gethdb.NoStream(), []gethdb.Event{{Class: "X"}})
	require.NoError(t, err)

	select {
	case r := <-received:
		require.Equal(t, gethdb.EventsWrittenClass, r.Class)
	default:
		t.Fatal("expected an events-written notification")
	}
}
