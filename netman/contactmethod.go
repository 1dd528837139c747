package netman

import (
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/types"
)

// ContactMethodKind enumerates the seven ways a target might be reached
// (spec §4.6.1 "ContactMethod").
type ContactMethodKind int

const (
	ContactUnreachable ContactMethodKind = iota
	ContactExisting
	ContactDirect
	ContactSignalReverse
	ContactSignalHolePunch
	ContactInboundRelay
	ContactOutboundRelay
)

func (k ContactMethodKind) String() string {
	switch k {
	case ContactExisting:
		return "Existing"
	case ContactDirect:
		return "Direct"
	case ContactSignalReverse:
		return "SignalReverse"
	case ContactSignalHolePunch:
		return "SignalHolePunch"
	case ContactInboundRelay:
		return "InboundRelay"
	case ContactOutboundRelay:
		return "OutboundRelay"
	default:
		return "Unreachable"
	}
}

// ContactMethod is the outcome of contact-method selection: exactly one
// variant is meaningful, chosen by Kind (spec §4.6.1).
type ContactMethod struct {
	Kind     ContactMethodKind
	DialInfo types.DialInfo
	RelayRef *routingtable.NodeRef

	existingDesc types.ConnectionDescriptor
	hasExisting  bool
}

// ExistingDesc returns the descriptor of an already-open connection this
// method reuses, valid only when Kind == ContactExisting.
func (m ContactMethod) ExistingDesc() (types.ConnectionDescriptor, bool) {
	return m.existingDesc, m.hasExisting
}

// SetRelay installs the node this manager uses as its inbound relay when
// its own NetworkClass requires one, and as the signal path for
// reverse-connect/hole-punch against peers it cannot dial directly
// (spec §4.6.1 "relay_id", §4.6.3). A nil relay means this node has none
// configured, which collapses every relay-dependent branch to
// Unreachable.
func (m *Manager) SetRelay(relay *routingtable.NodeRef) {
	m.mu.Lock()
	m.relay = relay
	m.mu.Unlock()
}

// selectContactMethod implements spec §4.6.1's decision table: reuse an
// existing connection if one is open, else try a direct dial against
// the target's best PublicInternet dial info, else fall back to
// signaling through a relay (reverse-connect for connection-oriented
// protocols, hole-punch for UDP-capable targets), else relay the
// envelope outright if the target is only reachable that way.
func (m *Manager) selectContactMethod(target *routingtable.NodeRef) (ContactMethod, error) {
	m.mu.Lock()
	selfInfo := m.ownPeerInfo[types.RoutingDomainPublicInternet]
	relay := m.relay
	m.mu.Unlock()

	if !selfInfo.valid {
		return ContactMethod{Kind: ContactUnreachable}, nil
	}

	if desc, ok := m.existingConnection(target); ok {
		return ContactMethod{Kind: ContactExisting, existingDesc: desc, hasExisting: true}, nil
	}

	if detail, ok := target.BestDialInfo(types.RoutingDomainPublicInternet); ok {
		return ContactMethod{Kind: ContactDirect, DialInfo: detail.DialInfo}, nil
	}

	if relay == nil {
		return ContactMethod{Kind: ContactUnreachable}, nil
	}

	if targetSupportsUDP(target) {
		return ContactMethod{Kind: ContactSignalHolePunch, RelayRef: relay}, nil
	}
	if targetAcceptsReverseConnect(target) {
		return ContactMethod{Kind: ContactSignalReverse, RelayRef: relay}, nil
	}

	return ContactMethod{Kind: ContactOutboundRelay, RelayRef: relay}, nil
}

// existingConnection reports whether the connection table already holds
// a live connection to any of target's known remote addresses.
func (m *Manager) existingConnection(target *routingtable.NodeRef) (types.ConnectionDescriptor, bool) {
	for _, domain := range types.AllRoutingDomains() {
		detail, ok := target.BestDialInfo(domain)
		if !ok {
			continue
		}
		desc := types.NewConnectionDescriptor(detail.DialInfo.PeerAddress())
		if _, ok := m.connmgr.Table().Get(desc); ok {
			return desc, true
		}
	}
	return types.ConnectionDescriptor{}, false
}

// targetSupportsUDP reports whether target has actually advertised a
// UDP dial info in any routing domain — not whether the caller's
// filter would permit dialing it over UDP, which says nothing about
// the target's own capabilities.
func targetSupportsUDP(target *routingtable.NodeRef) bool {
	for _, domain := range types.AllRoutingDomains() {
		if target.AdvertisesProtocol(domain, types.ProtocolUDP) {
			return true
		}
	}
	return false
}

// targetAcceptsReverseConnect reports whether target has advertised
// any connection-oriented dial info (TCP, WS, WSS) in any routing
// domain, which a reverse-connect signal could ask it to dial back on.
func targetAcceptsReverseConnect(target *routingtable.NodeRef) bool {
	for _, domain := range types.AllRoutingDomains() {
		if target.AdvertisesProtocol(domain, types.ProtocolTCP) ||
			target.AdvertisesProtocol(domain, types.ProtocolWS) ||
			target.AdvertisesProtocol(domain, types.ProtocolWSS) {
			return true
		}
	}
	return false
}
