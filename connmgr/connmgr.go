// Package connmgr implements the Connection Manager of spec §4.3: it
// owns the Connection Table and a bounded FIFO of newly-admitted
// connections, each driven by its own receive loop under a single
// "connection processor" task.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/charlesrocket/veilid/conntable"
	"github.com/charlesrocket/veilid/transport"
	"github.com/charlesrocket/veilid/types"
)

// MessageHandler is invoked by each connection's receive loop with the
// decoded payload and the descriptor it arrived on. A non-nil error
// terminates that connection's receive loop (spec §4.3
// "on read error or manager-signalled error, break and remove the
// descriptor from the table").
type MessageHandler func(ctx context.Context, payload []byte, desc types.ConnectionDescriptor) error

// Dialer resolves a DialInfo to a live Connection, used by
// GetOrCreateConnection when no existing entry matches.
type Dialer interface {
	Connect(ctx context.Context, localAddr *types.SocketAddress, dialInfo types.DialInfo) (transport.Connection, error)
}

// Manager is the Connection Manager. Exclusively owns its connection
// table and the admission FIFO's send side (spec §5 "Ownership &
// sharing").
type Manager struct {
	log   *logrus.Entry
	table *conntable.Table[transport.Connection]

	admitted chan transport.Connection
	onDrop   func(desc types.ConnectionDescriptor)
	onRecv   MessageHandler

	dialGate *semaphore.Weighted

	mu       sync.Mutex
	pending  map[types.ConnectionDescriptorKey]chan struct{}
	eg       *errgroup.Group
	egCancel context.CancelFunc
}

// Config tunes the manager's admission queue and concurrent-dial bound.
type Config struct {
	// QueueCapacity bounds the new-connection FIFO (spec §5
	// "Backpressure": default 128).
	QueueCapacity int
	// MaxActiveDials bounds concurrently in-flight outbound dials.
	MaxActiveDials int64
}

// New builds a Manager. onRecv is called for every message the
// processor reads off any tracked connection.
func New(log *logrus.Entry, cfg Config, onRecv MessageHandler) *Manager {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 128
	}
	if cfg.MaxActiveDials <= 0 {
		cfg.MaxActiveDials = 8
	}
	return &Manager{
		log:      log,
		table:    conntable.New[transport.Connection](),
		admitted: make(chan transport.Connection, cfg.QueueCapacity),
		onRecv:   onRecv,
		dialGate: semaphore.NewWeighted(cfg.MaxActiveDials),
		pending:  make(map[types.ConnectionDescriptorKey]chan struct{}),
	}
}

// Startup spawns the single connection processor task that concurrently
// drives every admitted connection's receive loop (spec §4.3 "startup
// spawns a single connection processor task").
func (m *Manager) Startup(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(ctx)
	m.mu.Lock()
	m.eg = eg
	m.egCancel = cancel
	m.mu.Unlock()

	eg.Go(func() error {
		for {
			select {
			case conn, ok := <-m.admitted:
				if !ok {
					return nil
				}
				eg.Go(func() error {
					m.processConnection(egCtx, conn)
					return nil
				})
			case <-egCtx.Done():
				return nil
			}
		}
	})
}

// Shutdown cancels the processor, which transitively cancels every
// receive loop, and waits for them to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel := m.egCancel
	eg := m.eg
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if eg != nil {
		eg.Wait()
	}
}

// OnNewConnection inserts conn into the table first, then — only if
// that succeeds — enqueues its receive loop, so that "receive loop
// scheduled" only ever happens for the one connection that actually won
// its descriptor (spec §4.3 invariant). A conn that loses the race
// (ErrExists) or can't be enqueued (queue full) is closed immediately
// without ever starting a receive loop, so no duplicate connection can
// later call Remove and evict the survivor it lost to.
func (m *Manager) OnNewConnection(conn transport.Connection) error {
	desc := conn.Descriptor()
	if err := m.table.Add(desc, conn); err != nil {
		m.log.WithField("descriptor", desc).Debug("duplicate connection admission, closing loser")
		conn.Close()
		return fmt.Errorf("connmgr: %w", err)
	}

	select {
	case m.admitted <- conn:
	default:
		if rmErr := m.table.Remove(desc, conn); rmErr != nil {
			m.log.WithError(rmErr).WithField("descriptor", desc).Debug("rolling back admission-queue-full registration")
		}
		m.log.WithField("descriptor", desc).Warn("new-connection queue full, dropping")
		conn.Close()
		return fmt.Errorf("connmgr: admission queue full")
	}
	return nil
}

// GetOrCreateConnection returns the tracked connection matching the
// descriptor derived from (localAddr, dialInfo), dialing and
// registering a new one if none exists. Two concurrent callers racing
// the same descriptor resolve to exactly one surviving connection.
func (m *Manager) GetOrCreateConnection(ctx context.Context, dialer Dialer, localAddr *types.SocketAddress, dialInfo types.DialInfo) (transport.Connection, error) {
	pa := dialInfo.PeerAddress()
	var desc types.ConnectionDescriptor
	if localAddr != nil {
		desc = types.NewConnectionDescriptorBound(pa, *localAddr)
	} else {
		desc = types.NewConnectionDescriptor(pa)
	}

	if conn, ok := m.table.Get(desc); ok {
		return conn, nil
	}

	wait, isLeader := m.claim(desc)
	if !isLeader {
		<-wait
		if conn, ok := m.table.Get(desc); ok {
			return conn, nil
		}
		return nil, fmt.Errorf("connmgr: losing racer found no surviving connection for %s", desc)
	}
	defer m.release(desc, wait)

	if err := m.dialGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.dialGate.Release(1)

	conn, err := dialer.Connect(ctx, localAddr, dialInfo)
	if err != nil {
		return nil, err
	}

	if existing, ok := m.table.Get(conn.Descriptor()); ok {
		conn.Close()
		return existing, nil
	}
	if err := m.OnNewConnection(conn); err != nil {
		// conn lost a race against a connection admitted between the Get
		// above and OnNewConnection's own table.Add (e.g. an inbound
		// accept for the same descriptor); conn is already closed by
		// OnNewConnection, so hand back whoever won instead of failing
		// a call that has a perfectly usable connection to return.
		if existing, ok := m.table.Get(conn.Descriptor()); ok {
			return existing, nil
		}
		return nil, err
	}
	return conn, nil
}

// claim registers the caller as the leader racing to resolve desc, or
// returns the existing wait channel if another goroutine already
// claimed it.
func (m *Manager) claim(desc types.ConnectionDescriptor) (chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := desc.Key()
	if ch, ok := m.pending[key]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	m.pending[key] = ch
	return ch, true
}

func (m *Manager) release(desc types.ConnectionDescriptor, wait chan struct{}) {
	m.mu.Lock()
	delete(m.pending, desc.Key())
	m.mu.Unlock()
	close(wait)
}

func (m *Manager) processConnection(ctx context.Context, conn transport.Connection) {
	desc := conn.Descriptor()
	defer func() {
		// Only retire this exact handle: if conn lost an admission race
		// (spec invariant violated by a duplicate descriptor) and the
		// survivor has since overwritten the table entry, Remove is a
		// no-op rather than evicting the still-live survivor.
		if err := m.table.Remove(desc, conn); err != nil && !errors.Is(err, conntable.ErrStale) {
			m.log.WithError(err).WithField("descriptor", desc).Debug("removing connection from table")
		}
		conn.Close()
	}()
	for {
		payload, err := conn.ReadMessage(ctx)
		if err != nil {
			return
		}
		if m.onRecv != nil {
			if err := m.onRecv(ctx, payload, desc); err != nil {
				return
			}
		}
	}
}

// Table exposes the underlying connection table for inspection (tests,
// metrics); callers must not mutate it directly.
func (m *Manager) Table() *conntable.Table[transport.Connection] {
	return m.table
}
