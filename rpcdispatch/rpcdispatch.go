// Package rpcdispatch models the boundary to the RPC operation
// encoder/decoder named in spec §1 as an out-of-scope external
// collaborator: "the RPC operation encoders/decoders (treated as an
// opaque codec returning typed operation objects)". This package does
// not decode operations; it only defines the interface the Network
// Manager hands decrypted bodies to, plus the in-flight call table that
// correlates outbound questions to their answers (spec §6 "Cancellation
// & timeouts": "Every outbound RPC has a deadline equal to
// base_timeout × hop_count... On timeout the waiter is removed from the
// in-flight table").
package rpcdispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charlesrocket/veilid/mclock"
	"github.com/charlesrocket/veilid/netresult"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/types"
)

// Dispatcher is implemented by the (external, opaque) RPC codec. The
// Network Manager calls Dispatch for every inbound plaintext body once
// it has authenticated the envelope and refreshed the sender's bucket
// entry (spec §6 step 11: "enqueue the plaintext body with its NodeRef
// and conn_desc for the RPC dispatcher").
type Dispatcher interface {
	Dispatch(ctx context.Context, body []byte, from *routingtable.NodeRef, desc types.ConnectionDescriptor) error
}

// CallID correlates an outbound question to its eventual answer. It is
// a process-local identifier, distinct from the wire-level envelope
// nonce and the Receipt Manager's ReceiptID.
type CallID uuid.UUID

func (c CallID) String() string { return uuid.UUID(c).String() }

func newCallID() CallID { return CallID(uuid.New()) }

// NodeStatus is the payload of the ping-validator's outgoing status RPC
// (spec §6 "Ping validator ... dispatches a status RPC"), modeled per
// routing domain the way the original's generate_node_status does.
type NodeStatus struct {
	Domain       types.RoutingDomain
	Stats        PeerStats
	WillRelay    bool
	WillRoute    bool
	WillValidate bool
}

// PeerStats is the rolling transfer/latency summary attached to a
// NodeStatus, mirroring the original's PerAddressStats/NodeStatus
// shapes (spec §3 "BucketEntry": "transfer and latency rolling stats").
type PeerStats struct {
	MessagesSent     uint32
	MessagesReceived uint32
	QuestionsLost    uint32
	AverageLatency   time.Duration
}

// waiter is one outbound RPC awaiting its answer.
type waiter struct {
	deadline mclock.AbsTime
	resolve  func(netresult.Result[[]byte])
	timer    mclock.Timer
}

// Table is the in-flight outbound-call correlation table: every
// question this node sends is registered here with a deadline, and
// every answer (or timeout) resolves and removes exactly one waiter.
type Table struct {
	clock mclock.Clock

	mu      sync.Mutex
	waiters map[CallID]*waiter

	onLostAnswer func(target types.TypedKey)
}

// NewTable builds an in-flight call table. onLostAnswer, if non-nil, is
// invoked with the target node id whenever a call times out, so the
// caller can record a lost answer against that peer's bucket entry
// (spec §3 "recent_lost_answers").
func NewTable(clock mclock.Clock, onLostAnswer func(target types.TypedKey)) *Table {
	return &Table{
		clock:        clock,
		waiters:      make(map[CallID]*waiter),
		onLostAnswer: onLostAnswer,
	}
}

// BaseTimeout is the per-hop RPC deadline unit of spec §6
// "Cancellation & timeouts": "deadline equal to base_timeout × hop_count".
const BaseTimeout = 10 * time.Second

// Deadline computes base_timeout × hop_count for an outbound call
// crossing hopCount relay hops (hopCount == 1 for a direct call).
func Deadline(hopCount int) time.Duration {
	if hopCount < 1 {
		hopCount = 1
	}
	return BaseTimeout * time.Duration(hopCount)
}

// Register allocates a new CallID with a deadline of Deadline(hopCount),
// returning the id to embed in the outgoing question and a channel that
// receives exactly one NetworkResult[[]byte]: the answer body on
// success, Timeout if the deadline elapses first, or ServiceUnavailable
// if the call is cancelled (by Cancel or by ctx ending) first.
func (t *Table) Register(ctx context.Context, target types.TypedKey, hopCount int) (CallID, <-chan netresult.Result[[]byte]) {
	id := newCallID()
	ch := make(chan netresult.Result[[]byte], 1)

	resolve := func(r netresult.Result[[]byte]) {
		select {
		case ch <- r:
		default:
		}
	}

	timeout := Deadline(hopCount)
	w := &waiter{
		deadline: t.clock.Now().Add(timeout),
		resolve:  resolve,
	}
	w.timer = t.clock.AfterFunc(timeout, func() {
		t.timeoutCall(id, target)
	})

	t.mu.Lock()
	t.waiters[id] = w
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.Cancel(id)
	}()

	return id, ch
}

// Resolve delivers an answer body for id, if still outstanding. Calling
// Resolve for an unknown or already-resolved id is a no-op (spec's
// silent-drop discipline for stray/duplicate returns).
func (t *Table) Resolve(id CallID, body []byte) {
	t.mu.Lock()
	w, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.timer.Stop()
	w.resolve(netresult.Value(body))
}

// Cancel abandons an outstanding call without recording a lost answer,
// used when the calling context is cancelled rather than timed out.
func (t *Table) Cancel(id CallID) {
	t.mu.Lock()
	w, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.timer.Stop()
	w.resolve(netresult.ServiceUnavailable[[]byte]("call cancelled"))
}

func (t *Table) timeoutCall(id CallID, target types.TypedKey) {
	t.mu.Lock()
	w, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.resolve(netresult.Timeout[[]byte]())
	if t.onLostAnswer != nil {
		t.onLostAnswer(target)
	}
}

// Outstanding reports the number of calls still awaiting an answer.
func (t *Table) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// ErrNoDispatcher is returned by Handoff when no Dispatcher has been
// wired yet (e.g. during early startup before the RPC codec attaches).
type ErrNoDispatcher struct{}

func (ErrNoDispatcher) Error() string { return "rpcdispatch: no dispatcher configured" }

// Handoff forwards an inbound plaintext body to d, wrapping the zero-
// dispatcher case in ErrNoDispatcher so callers can log-and-drop rather
// than panic (spec's silent-drop discipline for this external
// collaborator boundary).
func Handoff(ctx context.Context, d Dispatcher, body []byte, from *routingtable.NodeRef, desc types.ConnectionDescriptor) error {
	if d == nil {
		return ErrNoDispatcher{}
	}
	if err := d.Dispatch(ctx, body, from, desc); err != nil {
		return fmt.Errorf("rpcdispatch: dispatch: %w", err)
	}
	return nil
}
