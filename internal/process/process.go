// Package process implements the actor-style runtime the storage engine's
// writer, reader, indexer, and subscription components run under: each is
// a goroutine with a mailbox, addressed by a small integer-like id rather
// than a direct handle, so nothing in the engine holds a reference into
// another component's internals.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/logging"
	"gastrolog/internal/notify"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is a process's position in its lifecycle. Transitions only ever
// move forward: Spawned -> Ready -> Running -> Terminating -> Terminated.
type State int

const (
	Spawned State = iota
	Ready
	Running
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Spawned:
		return "spawned"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Tag names a kind of process in the catalog: "writer", "reader",
// "indexer", "subscription", and so on.
type Tag string

// Topology controls how many instances of a Tag may run at once.
type Topology struct {
	singleton bool
	limit     int
}

// SingletonTopology allows exactly one running instance of a Tag.
func SingletonTopology() Topology { return Topology{singleton: true} }

// MultipleTopology allows up to limit concurrent instances. limit <= 0
// means unbounded.
func MultipleTopology(limit int) Topology { return Topology{limit: limit} }

// Message is one piece of mail delivered to a process's mailbox. Ctx, when
// set, is the originating caller's request context — a process handling
// the message should favor it over its own (longer-lived) run context so
// the request's own deadline and cancellation are honored end to end.
type Message struct {
	Ctx   context.Context
	Body  any
	Reply chan Reply
}

// Reply is the response to a Message that carried a non-nil Reply channel.
type Reply struct {
	Body any
	Err  error
}

// Run is the function body of a process: it receives its own id and
// mailbox, and runs until the mailbox closes or ctx is cancelled.
type Run func(ctx context.Context, self ID, mailbox <-chan Message) error

// ID identifies one running process instance.
type ID struct {
	uuid uuid.UUID
}

func (id ID) String() string { return id.uuid.String() }

func newID() ID { return ID{uuid: uuid.Must(uuid.NewV7())} }

type entry struct {
	tag      Tag
	state    atomic.Int32
	mailbox  chan Message
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	runErrMu sync.Mutex
}

func (e *entry) setState(s State) { e.state.Store(int32(s)) }
func (e *entry) getState() State  { return State(e.state.Load()) }

// Manager owns every running process: it assigns ids, tracks singleton
// occupancy per Tag, delivers mail, and coordinates shutdown.
type Manager struct {
	mu        sync.Mutex
	procs     map[ID]*entry
	singleton map[Tag]ID
	counts    map[Tag]int
	changed   *notify.Signal
	logger    *slog.Logger

	// onCorruption is invoked when a process run returns gethdb.ErrCorruption,
	// giving the owner (typically main) a chance to shut the whole engine
	// down rather than silently leaving a dead singleton in the catalog.
	onCorruption func(tag Tag, id ID, err error)
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger, onCorruption func(tag Tag, id ID, err error)) *Manager {
	return &Manager{
		procs:        make(map[ID]*entry),
		singleton:    make(map[Tag]ID),
		counts:       make(map[Tag]int),
		changed:      notify.NewSignal(),
		logger:       logging.Default(logger).With("component", "process"),
		onCorruption: onCorruption,
	}
}

// Spawn starts a new process under tag with the given topology. For a
// Singleton tag with an already-running instance, Spawn returns that
// instance's id instead of starting a second one.
func (m *Manager) Spawn(ctx context.Context, tag Tag, topology Topology, run Run) (ID, error) {
	m.mu.Lock()

	if topology.singleton {
		if existing, ok := m.singleton[tag]; ok {
			if e := m.procs[existing]; e != nil && e.getState() < Terminating {
				m.mu.Unlock()
				return existing, nil
			}
		}
	} else if topology.limit > 0 && m.counts[tag] >= topology.limit {
		m.mu.Unlock()
		return ID{}, fmt.Errorf("process: tag %q at its limit of %d instances", tag, topology.limit)
	}

	id := newID()
	runCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		tag:     tag,
		mailbox: make(chan Message, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.setState(Spawned)
	m.procs[id] = e
	if topology.singleton {
		m.singleton[tag] = id
	}
	m.counts[tag]++
	m.mu.Unlock()
	m.changed.Notify()

	go func() {
		defer close(e.done)
		defer m.changed.Notify()

		e.setState(Ready)
		m.changed.Notify()
		e.setState(Running)
		m.changed.Notify()

		err := run(runCtx, id, e.mailbox)

		e.runErrMu.Lock()
		e.runErr = err
		e.runErrMu.Unlock()
		e.setState(Terminated)

		m.mu.Lock()
		delete(m.procs, id)
		if topology.singleton && m.singleton[tag] == id {
			delete(m.singleton, tag)
		}
		m.counts[tag]--
		m.mu.Unlock()

		if err != nil {
			m.logger.Error("process terminated with error", "tag", tag, "id", id, "err", err)
			if errors.Is(err, gethdb.ErrCorruption) && m.onCorruption != nil {
				m.onCorruption(tag, id, err)
			}
		}
	}()

	return id, nil
}

// Send delivers msg to id's mailbox, blocking until accepted or ctx is done.
func (m *Manager) Send(ctx context.Context, id ID, msg Message) error {
	m.mu.Lock()
	e, ok := m.procs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: process %s not found", gethdb.ErrUnavailable, id)
	}

	select {
	case e.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ask sends body to id and waits for a reply, enforcing ctx's deadline.
func (m *Manager) Ask(ctx context.Context, id ID, body any) (any, error) {
	reply := make(chan Reply, 1)
	if err := m.Send(ctx, id, Message{Ctx: ctx, Body: body, Reply: reply}); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r.Body, r.Err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", gethdb.ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// WaitFor blocks until the singleton instance of tag is Ready or Running, or
// ctx is done. Tags spawned with MultipleTopology are never matched.
func (m *Manager) WaitFor(ctx context.Context, tag Tag) (ID, error) {
	for {
		m.mu.Lock()
		if id, ok := m.singleton[tag]; ok {
			if e := m.procs[id]; e != nil && e.getState() >= Ready && e.getState() < Terminating {
				m.mu.Unlock()
				return id, nil
			}
		}
		ch := m.changed.C()
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ID{}, ctx.Err()
		}
	}
}

// State reports id's current lifecycle state, or Terminated if unknown.
func (m *Manager) State(id ID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.procs[id]; ok {
		return e.getState()
	}
	return Terminated
}

// Shutdown cancels every running process and waits for each to exit
// concurrently, or for ctx to be cancelled first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.procs))
	for _, e := range m.procs {
		e.setState(Terminating)
		e.cancel()
		entries = append(entries, e)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			select {
			case <-e.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}
