package subscription

import (
	"context"
	"errors"
	"testing"

	"gastrolog/internal/gethdb"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToStreamAndAllWildcard(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	var streamSeen, allSeen []gethdb.Record
	_, err := b.Subscribe(ctx, "orders-1", func(r gethdb.Record) error {
		streamSeen = append(streamSeen, r)
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, gethdb.AllStream, func(r gethdb.Record) error {
		allSeen = append(allSeen, r)
		return nil
	})
	require.NoError(t, err)

	rec := gethdb.Record{StreamName: "orders-1", Revision: 0}
	require.NoError(t, b.Publish(ctx, "orders-1", rec))

	require.Len(t, streamSeen, 1)
	require.Len(t, allSeen, 1)
}

func TestPublishDoesNotDoubleDeliverToAllStreamItself(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	var seen int
	_, err := b.Subscribe(ctx, gethdb.AllStream, func(r gethdb.Record) error {
		seen++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, gethdb.AllStream, gethdb.Record{StreamName: gethdb.AllStream}))
	require.Equal(t, 1, seen)
}

func TestFailingSinkIsDroppedAndDoesNotAffectOthers(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "s", func(r gethdb.Record) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	var okSeen int
	_, err = b.Subscribe(ctx, "s", func(r gethdb.Record) error {
		okSeen++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "s", gethdb.Record{StreamName: "s"}))
	require.Equal(t, 1, okSeen)
	require.Equal(t, 1, b.SubscriberCount("s"), "the failing sink should have been unregistered")

	require.NoError(t, b.Publish(ctx, "s", gethdb.Record{StreamName: "s"}))
	require.Equal(t, 2, okSeen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	var seen int
	confirmed, err := b.Subscribe(ctx, "s", func(r gethdb.Record) error {
		seen++
		return nil
	})
	require.NoError(t, err)

	b.Unsubscribe("s", confirmed.ID)
	require.NoError(t, b.Publish(ctx, "s", gethdb.Record{StreamName: "s"}))
	require.Equal(t, 0, seen)
}
