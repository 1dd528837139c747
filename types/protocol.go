package types

// ProtocolType enumerates the wire protocols a node may speak.
type ProtocolType int

const (
	ProtocolUDP ProtocolType = iota
	ProtocolTCP
	ProtocolWS
	ProtocolWSS
)

func (p ProtocolType) String() string {
	switch p {
	case ProtocolUDP:
		return "UDP"
	case ProtocolTCP:
		return "TCP"
	case ProtocolWS:
		return "WS"
	case ProtocolWSS:
		return "WSS"
	default:
		return "Unknown"
	}
}

// IsConnectionOriented reports whether the protocol preserves message
// order and requires a connection-oriented transport (spec §5 "Ordering
// guarantees": UDP is explicitly unordered).
func (p ProtocolType) IsConnectionOriented() bool {
	return p != ProtocolUDP
}

// ProtocolTypeSet is a small bitset of ProtocolType, used by NodeRef
// filters (spec §4.5 "NodeRef ... filter").
type ProtocolTypeSet uint8

func NewProtocolTypeSet(types ...ProtocolType) ProtocolTypeSet {
	var s ProtocolTypeSet
	for _, t := range types {
		s |= 1 << uint(t)
	}
	return s
}

func AllProtocolTypes() ProtocolTypeSet {
	return NewProtocolTypeSet(ProtocolUDP, ProtocolTCP, ProtocolWS, ProtocolWSS)
}

func (s ProtocolTypeSet) Contains(p ProtocolType) bool {
	return s&(1<<uint(p)) != 0
}

func (s ProtocolTypeSet) With(p ProtocolType) ProtocolTypeSet {
	return s | (1 << uint(p))
}

// AddressTypeSet is a small bitset of AddressType.
type AddressTypeSet uint8

func NewAddressTypeSet(types ...AddressType) AddressTypeSet {
	var s AddressTypeSet
	for _, t := range types {
		s |= 1 << uint(t)
	}
	return s
}

func AllAddressTypes() AddressTypeSet {
	return NewAddressTypeSet(AddressTypeIPv4, AddressTypeIPv6)
}

func (s AddressTypeSet) Contains(t AddressType) bool {
	return s&(1<<uint(t)) != 0
}

// PeerAddress is a SocketAddress plus the protocol used to reach it
// (spec §3).
type PeerAddress struct {
	Socket   SocketAddress
	Protocol ProtocolType
}

func (p PeerAddress) String() string {
	return p.Protocol.String() + "://" + p.Socket.String()
}

func (p PeerAddress) Equal(o PeerAddress) bool {
	return p.Protocol == o.Protocol && p.Socket.Equal(o.Socket)
}
