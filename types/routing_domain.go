package types

// RoutingDomain distinguishes the public internet overlay from a private
// local network segment; each maintains independent dial info, node info,
// and contact-method state (spec §3 "RoutingDomain").
type RoutingDomain int

const (
	RoutingDomainPublicInternet RoutingDomain = iota
	RoutingDomainLocalNetwork
)

func (d RoutingDomain) String() string {
	if d == RoutingDomainLocalNetwork {
		return "LocalNetwork"
	}
	return "PublicInternet"
}

// AllRoutingDomains lists every domain, for iterating per-domain state.
func AllRoutingDomains() []RoutingDomain {
	return []RoutingDomain{RoutingDomainPublicInternet, RoutingDomainLocalNetwork}
}

// NetworkClass classifies how directly a node can be reached, driving
// contact-method selection (spec §6 "Contact method selection").
type NetworkClass int

const (
	// NetworkClassInvalid means the class has not been determined yet.
	NetworkClassInvalid NetworkClass = iota
	// NetworkClassServer means the node has a stable, directly dialable
	// public address (e.g. port-forwarded or a public server).
	NetworkClassServer
	// NetworkClassMapped means a NAT maps the node's address consistently
	// and a mapping was discovered (UPnP/NAT-PMP or external observation).
	NetworkClassMapped
	// NetworkClassFullConeNAT means the node is behind a full-cone NAT:
	// any external host can reach the mapped port once opened.
	NetworkClassFullConeNAT
	// NetworkClassAddressRestrictedNAT restricts inbound packets to peers
	// the node has previously sent to, by address.
	NetworkClassAddressRestrictedNAT
	// NetworkClassPortRestrictedNAT further restricts by port.
	NetworkClassPortRestrictedNAT
	// NetworkClassOutboundOnly means no inbound contact method has been
	// found to work; only outbound connections are reliable.
	NetworkClassOutboundOnly
)

func (c NetworkClass) String() string {
	switch c {
	case NetworkClassServer:
		return "Server"
	case NetworkClassMapped:
		return "Mapped"
	case NetworkClassFullConeNAT:
		return "FullConeNAT"
	case NetworkClassAddressRestrictedNAT:
		return "AddressRestrictedNAT"
	case NetworkClassPortRestrictedNAT:
		return "PortRestrictedNAT"
	case NetworkClassOutboundOnly:
		return "OutboundOnly"
	default:
		return "Invalid"
	}
}

// RequiresRelay reports whether nodes of this class cannot accept direct
// inbound connections at all and must rely on an inbound relay.
func (c NetworkClass) RequiresRelay() bool {
	return c == NetworkClassOutboundOnly || c == NetworkClassInvalid
}

// Capabilities is a bitset of optional protocol features a node advertises
// in its NodeInfo (spec §3 "Capabilities"), used to avoid depending on
// peers that cannot serve a given role.
type Capabilities uint32

const (
	CapabilityRelay Capabilities = 1 << iota
	CapabilitySignal
	CapabilityRoute
	CapabilityValidate
	CapabilityDHT
)

func (c Capabilities) Has(flag Capabilities) bool {
	return c&flag != 0
}

func (c Capabilities) With(flag Capabilities) Capabilities {
	return c | flag
}
