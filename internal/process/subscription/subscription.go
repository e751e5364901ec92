// Package subscription implements the live-update bus: callers register a
// sink for a stream (or the $all wildcard) and receive every record
// published afterward, in log-position order. A sink is only ever
// considered registered after the caller has received a confirmation,
// so a publish can never race a subscriber's own "I'm ready" signal.
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/logging"

	"github.com/google/uuid"
)

// Sink receives published records. Delivery is synchronous, so a slow sink
// stalls the publisher; a sink that returns an error is dropped.
type Sink func(gethdb.Record) error

// SubscriptionID identifies one registered sink, for Unsubscribe.
type SubscriptionID struct{ uuid uuid.UUID }

// Bus fans published records out to every sink registered on the record's
// stream, plus every sink registered on the $all wildcard.
type Bus struct {
	mu       sync.RWMutex
	byStream map[string]map[SubscriptionID]Sink
	logger   *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		byStream: make(map[string]map[SubscriptionID]Sink),
		logger:   logging.Default(logger).With("component", "process/subscription"),
	}
}

// Confirmed is returned once Subscribe has finished registering the sink,
// so the caller knows no publication prior to this point can have been
// missed and none after it can have been skipped.
type Confirmed struct {
	ID SubscriptionID
}

// Subscribe registers sink against streamName (or gethdb.AllStream for
// every stream) and returns once registration is complete.
func (b *Bus) Subscribe(ctx context.Context, streamName string, sink Sink) (Confirmed, error) {
	if err := ctx.Err(); err != nil {
		return Confirmed{}, err
	}

	id := SubscriptionID{uuid: uuid.Must(uuid.NewV7())}

	b.mu.Lock()
	if b.byStream[streamName] == nil {
		b.byStream[streamName] = make(map[SubscriptionID]Sink)
	}
	b.byStream[streamName][id] = sink
	b.mu.Unlock()

	return Confirmed{ID: id}, nil
}

// Unsubscribe removes a previously confirmed subscription.
func (b *Bus) Unsubscribe(streamName string, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sinks, ok := b.byStream[streamName]; ok {
		delete(sinks, id)
		if len(sinks) == 0 {
			delete(b.byStream, streamName)
		}
	}
}

// Publish fans record out to every sink on record.StreamName and every
// sink on the $all wildcard, in that order. A sink whose call returns an
// error is unregistered and otherwise ignored: one failing subscriber
// must never affect another, or the publisher.
func (b *Bus) Publish(ctx context.Context, streamName string, record gethdb.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.fanOutTo(streamName, record)
	if streamName != gethdb.AllStream {
		b.fanOutTo(gethdb.AllStream, record)
	}
	return nil
}

func (b *Bus) fanOutTo(streamName string, record gethdb.Record) {
	b.mu.RLock()
	sinks := b.byStream[streamName]
	targets := make(map[SubscriptionID]Sink, len(sinks))
	for id, sink := range sinks {
		targets[id] = sink
	}
	b.mu.RUnlock()

	for id, sink := range targets {
		if err := sink(record); err != nil {
			b.logger.Warn("dropping subscriber after failed delivery", "stream", streamName, "err", err)
			b.Unsubscribe(streamName, id)
		}
	}
}

// SubscriberCount reports how many sinks are currently registered on
// streamName, for diagnostics and tests.
func (b *Bus) SubscriberCount(streamName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byStream[streamName])
}
