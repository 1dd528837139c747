// Package netman implements the Network Manager orchestrator of spec
// §4.6: the one component that owns the envelope codec, connection
// manager, receipt manager, and RPC dispatch handoff, and that exposes
// send_envelope/on_recv/report_public_internet_socket_address/
// boot_request to the rest of the system.
package netman

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlesrocket/veilid/connmgr"
	"github.com/charlesrocket/veilid/cryptosuite"
	"github.com/charlesrocket/veilid/envelope"
	"github.com/charlesrocket/veilid/mclock"
	"github.com/charlesrocket/veilid/receipt"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/rpcdispatch"
	"github.com/charlesrocket/veilid/transport"
	"github.com/charlesrocket/veilid/types"
)

// SendResultKind classifies how send_envelope reached (or failed to
// reach) its target (spec §4.6 "send_envelope").
type SendResultKind int

const (
	SendResultDirect SendResultKind = iota
	SendResultIndirect
	SendResultExisting
)

// SendResult is send_envelope's outcome. Desc is populated for Direct
// and Existing; Indirect means the envelope left via a relay/signal
// path with no single connection descriptor to report.
type SendResult struct {
	Kind SendResultKind
	Desc types.ConnectionDescriptor
}

// Dialer is the subset of connmgr's dial capability the manager needs,
// satisfied by a transport.Handler registry keyed by protocol.
type Dialer interface {
	Connect(ctx context.Context, localAddr *types.SocketAddress, dialInfo types.DialInfo) (transport.Connection, error)
}

// Config bundles the manager's crypto identity and tunables that don't
// already live on a sub-component's own config struct.
type Config struct {
	SelfID         types.TypedKey
	SelfSecret     [32]byte
	EnvelopeVer    uint8
	SkewBounds     envelope.SkewBounds
	BaseRPCTimeout time.Duration
}

// Manager is the Network Manager orchestrator (spec §4.6).
type Manager struct {
	log    *logrus.Entry
	clock  mclock.Clock
	cfg    Config
	dialer Dialer

	connmgr    *connmgr.Manager
	routing    *routingtable.Table
	receipts   *receipt.Manager
	dispatcher rpcdispatch.Dispatcher
	calls      *rpcdispatch.Table

	whitelist    *relayWhitelist
	publicAddr   *publicAddressTracker
	perAddrStats *perAddressStats

	mu           sync.Mutex
	ownPeerInfo  map[types.RoutingDomain]peerInfoSnapshot
	networkClass types.NetworkClass
	relay        *routingtable.NodeRef
	bootSource   FindBootstrapNodes
	handlers     map[types.ProtocolType]transport.Handler
}

// peerInfoSnapshot is a minimal stand-in for own_peer_info(domain): the
// dial-info details this node currently advertises for a routing
// domain, used by contact-method selection (spec §4.6.1 step 1).
type peerInfoSnapshot struct {
	dialInfo []types.DialInfo
	valid    bool
}

// New builds a Manager wired to its required collaborators. clock drives
// both the in-flight RPC call table's timeouts and every other
// mclock-based timing this package needs; it should be the same clock
// the routing table and connection manager use.
func New(log *logrus.Entry, clock mclock.Clock, cfg Config, cm *connmgr.Manager, rt *routingtable.Table, rm *receipt.Manager, dialer Dialer) *Manager {
	m := &Manager{
		log:           log,
		clock:         clock,
		cfg:           cfg,
		dialer:        dialer,
		connmgr:       cm,
		routing:       rt,
		receipts:      rm,
		whitelist:     newRelayWhitelist(1024, 5*time.Minute),
		publicAddr:    newPublicAddressTracker(8, 3, 5*time.Minute, 60*time.Minute, 56),
		perAddrStats:  newPerAddressStats(1024),
		ownPeerInfo:  make(map[types.RoutingDomain]peerInfoSnapshot),
		handlers:     make(map[types.ProtocolType]transport.Handler),
		networkClass: types.NetworkClassInvalid,
	}
	m.calls = rpcdispatch.NewTable(clock, m.onLostAnswer)
	return m
}

// SetDispatcher attaches the opaque RPC codec that on_recv hands
// plaintext bodies to. Safe to call before Startup; nil is valid and
// causes inbound bodies to be log-and-dropped with ErrNoDispatcher.
func (m *Manager) SetDispatcher(d rpcdispatch.Dispatcher) {
	m.mu.Lock()
	m.dispatcher = d
	m.mu.Unlock()
}

// SetOwnPeerInfo installs the dial-info this node currently advertises
// for domain, consumed by contact-method selection step 1 ("peer_a =
// own_peer_info(RD)... if either missing -> Unreachable").
func (m *Manager) SetOwnPeerInfo(domain types.RoutingDomain, dialInfo []types.DialInfo) {
	m.mu.Lock()
	m.ownPeerInfo[domain] = peerInfoSnapshot{dialInfo: dialInfo, valid: true}
	m.mu.Unlock()
}

// SetHandler registers the transport.Handler used to dial and accept
// connections for a given protocol, consulted by BootRequest to pick
// the right handler for a bootstrap peer's dial info.
func (m *Manager) SetHandler(h transport.Handler) {
	m.mu.Lock()
	m.handlers[h.Protocol()] = h
	m.mu.Unlock()
}

// SetNetworkClass records this node's current self-assessed reachability
// (spec §4.6.5 "inbound-capable" vs "outbound-only").
func (m *Manager) SetNetworkClass(c types.NetworkClass) {
	m.mu.Lock()
	m.networkClass = c
	m.mu.Unlock()
}

// Ping issues a liveness-checking status RPC at target, handing the
// outbound call to the RPC dispatch correlation table and returning its
// CallID immediately; the eventual answer (or timeout) resolves the
// channel rpcdispatch.Table.Register returned when this call was
// registered internally. Satisfies tasks.Pinger.
func (m *Manager) Ping(ctx context.Context, target *routingtable.NodeRef) (rpcdispatch.CallID, error) {
	id, _ := m.calls.Register(ctx, target.NodeID(), 1)
	_, err := m.SendEnvelope(ctx, target, types.TypedKey{}, nil)
	if err != nil {
		m.calls.Cancel(id)
		return id, err
	}
	return id, nil
}

// CheckPublicAddress logs the currently believed public address of every
// tracked (ProtocolType, AddressType) class. Satisfies
// tasks.PublicAddressChecker. It does not re-evaluate reporter consensus
// and does not change NetworkClass; beliefs change only as reports
// arrive through Report.
func (m *Manager) CheckPublicAddress(ctx context.Context) error {
	for class, addr := range m.publicAddr.Snapshot() {
		m.log.WithField("protocol", class.Protocol).WithField("address", addr).Debug("public address check: current belief")
	}
	return nil
}

func (m *Manager) onLostAnswer(target types.TypedKey) {
	ref, ok := m.routing.Lookup(target.Key, routingtable.Filter{})
	if !ok {
		return
	}
	ref.WithEntry(func(e *routingtable.Entry) { e.RecordLostAnswer() })
	ref.Release()
}

// SendEnvelope implements spec §4.6's send_envelope: resolve the best
// way to reach target, build an envelope for destID (or target's own
// id if destID is zero), and ship it.
func (m *Manager) SendEnvelope(ctx context.Context, target *routingtable.NodeRef, destID types.TypedKey, body []byte) (SendResult, error) {
	if destID.IsZero() {
		destID = target.NodeID()
	}

	method, err := m.selectContactMethod(target)
	if err != nil {
		return SendResult{}, err
	}

	switch method.Kind {
	case ContactUnreachable:
		return SendResult{}, fmt.Errorf("netman: target %s is unreachable", target.NodeID())

	case ContactExisting:
		desc, ok := method.ExistingDesc()
		if !ok {
			return SendResult{}, fmt.Errorf("netman: existing contact method missing descriptor")
		}
		if err := m.sendOverDescriptor(ctx, desc, destID, body); err != nil {
			return SendResult{}, err
		}
		return SendResult{Kind: SendResultExisting, Desc: desc}, nil

	case ContactDirect:
		conn, err := m.connmgr.GetOrCreateConnection(ctx, m.dialer, nil, method.DialInfo)
		if err != nil {
			return SendResult{}, fmt.Errorf("netman: direct dial: %w", err)
		}
		desc := conn.Descriptor()
		if err := m.sendOverDescriptor(ctx, desc, destID, body); err != nil {
			return SendResult{}, err
		}
		return SendResult{Kind: SendResultDirect, Desc: desc}, nil

	case ContactSignalReverse:
		desc, err := m.reverseConnect(ctx, method.RelayRef, target)
		if err != nil {
			return SendResult{}, err
		}
		if err := m.sendOverDescriptor(ctx, desc, destID, body); err != nil {
			return SendResult{}, err
		}
		return SendResult{Kind: SendResultDirect, Desc: desc}, nil

	case ContactSignalHolePunch:
		desc, err := m.holePunch(ctx, method.RelayRef, target)
		if err != nil {
			return SendResult{}, err
		}
		if err := m.sendOverDescriptor(ctx, desc, destID, body); err != nil {
			return SendResult{}, err
		}
		return SendResult{Kind: SendResultDirect, Desc: desc}, nil

	case ContactInboundRelay, ContactOutboundRelay:
		if err := m.sendViaRelay(ctx, method.RelayRef, destID, body); err != nil {
			return SendResult{}, err
		}
		return SendResult{Kind: SendResultIndirect}, nil
	}

	return SendResult{}, fmt.Errorf("netman: unhandled contact method %v", method.Kind)
}

func (m *Manager) sendOverDescriptor(ctx context.Context, desc types.ConnectionDescriptor, destID types.TypedKey, body []byte) error {
	conn, ok := m.connmgr.Table().Get(desc)
	if !ok {
		return fmt.Errorf("netman: descriptor %s no longer registered", desc)
	}
	sealed, err := envelope.Encode(m.cfg.SelfID.Kind, m.cfg.SelfSecret, m.cfg.SelfID.Key, destID.Key, body, time.Now())
	if err != nil {
		return fmt.Errorf("netman: encode envelope: %w", err)
	}
	return conn.WriteMessage(ctx, sealed)
}

// sendViaRelay encodes body in an envelope addressed to destID and writes
// it to a connection dialed from the relay's best PublicInternet dial
// info; the relay then forwards those bytes verbatim (spec §4.6.2 step 9,
// §8 "Relay forwarding fidelity").
func (m *Manager) sendViaRelay(ctx context.Context, relay *routingtable.NodeRef, destID types.TypedKey, body []byte) error {
	sealed, err := envelope.Encode(m.cfg.SelfID.Kind, m.cfg.SelfSecret, m.cfg.SelfID.Key, destID.Key, body, time.Now())
	if err != nil {
		return fmt.Errorf("netman: encode envelope for relay: %w", err)
	}
	di, ok := relay.BestDialInfo(types.RoutingDomainPublicInternet)
	if !ok {
		return fmt.Errorf("netman: relay %s has no usable dial info", relay.NodeID())
	}
	conn, err := m.connmgr.GetOrCreateConnection(ctx, m.dialer, nil, di.DialInfo)
	if err != nil {
		return fmt.Errorf("netman: dial relay: %w", err)
	}
	return conn.WriteMessage(ctx, sealed)
}

// cryptoSupported reports whether kind is a registered crypto_kind,
// used by the inbound pipeline before attempting to decode a header.
func cryptoSupported(kind types.CryptoKind) bool {
	_, ok := cryptosuite.Lookup(kind)
	return ok
}
