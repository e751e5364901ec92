package process

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gastrolog/internal/gethdb"

	"github.com/stretchr/testify/require"
)

func echoRun(ctx context.Context, self ID, mailbox <-chan Message) error {
	for {
		select {
		case msg, ok := <-mailbox:
			if !ok {
				return nil
			}
			if msg.Reply != nil {
				msg.Reply <- Reply{Body: msg.Body}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func TestSpawnAskReply(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	id, err := m.Spawn(ctx, "echo", MultipleTopology(0), echoRun)
	require.NoError(t, err)

	resp, err := m.Ask(ctx, id, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", resp)
}

func TestSingletonTopologyReturnsSameID(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	id1, err := m.Spawn(ctx, "writer", SingletonTopology(), echoRun)
	require.NoError(t, err)
	id2, err := m.Spawn(ctx, "writer", SingletonTopology(), echoRun)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestWaitForBlocksUntilReady(t *testing.T) {
	m := NewManager(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = m.Spawn(context.Background(), "indexer", SingletonTopology(), echoRun)
	}()

	id, err := m.WaitFor(ctx, "indexer")
	require.NoError(t, err)
	require.NotEqual(t, ID{}, id)
}

func TestShutdownWaitsForAllProcesses(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	_, err := m.Spawn(ctx, "a", MultipleTopology(0), echoRun)
	require.NoError(t, err)
	_, err = m.Spawn(ctx, "b", MultipleTopology(0), echoRun)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))
}

func TestCorruptionCallback(t *testing.T) {
	notified := make(chan Tag, 1)
	m := NewManager(nil, func(tag Tag, id ID, err error) { notified <- tag })
	ctx := context.Background()

	_, err := m.Spawn(ctx, "writer", SingletonTopology(), func(ctx context.Context, self ID, mailbox <-chan Message) error {
		return fmt.Errorf("wrap: %w", gethdb.ErrCorruption)
	})
	require.NoError(t, err)

	select {
	case tag := <-notified:
		require.Equal(t, Tag("writer"), tag)
	case <-time.After(time.Second):
		t.Fatal("corruption callback was not invoked")
	}
}
