package types

import "fmt"

// ConnectionDescriptor uniquely identifies an established or pending
// connection by its remote peer address and, for connection-oriented
// protocols bound to a specific local socket, the local address used
// (spec §3 "ConnectionDescriptor"). Two descriptors are equal only if
// both the remote address and the local address (when present) match;
// this is the uniqueness key enforced by the connection table.
type ConnectionDescriptor struct {
	Remote PeerAddress
	Local  *SocketAddress
}

// NewConnectionDescriptor builds a descriptor with no fixed local address,
// appropriate for outbound connections where the local ephemeral port is
// not part of identity.
func NewConnectionDescriptor(remote PeerAddress) ConnectionDescriptor {
	return ConnectionDescriptor{Remote: remote}
}

// NewConnectionDescriptorBound builds a descriptor pinned to a specific
// local socket address, as used for inbound connections accepted on a
// bound listener.
func NewConnectionDescriptorBound(remote PeerAddress, local SocketAddress) ConnectionDescriptor {
	return ConnectionDescriptor{Remote: remote, Local: &local}
}

func (c ConnectionDescriptor) String() string {
	if c.Local == nil {
		return c.Remote.String()
	}
	return fmt.Sprintf("%s<-%s", c.Remote, c.Local)
}

// Equal reports field-wise equality, matching the uniqueness invariant of
// the connection table (spec §4.3).
func (c ConnectionDescriptor) Equal(o ConnectionDescriptor) bool {
	if !c.Remote.Equal(o.Remote) {
		return false
	}
	if (c.Local == nil) != (o.Local == nil) {
		return false
	}
	if c.Local != nil && !c.Local.Equal(*o.Local) {
		return false
	}
	return true
}

// Key returns a value usable as a Go map key, since ConnectionDescriptor
// itself contains a pointer field and so is not directly comparable with
// ==. Use this wherever a descriptor is stored in a map (connection
// table, connection manager).
func (c ConnectionDescriptor) Key() ConnectionDescriptorKey {
	k := ConnectionDescriptorKey{Remote: c.Remote.String(), HasLocal: c.Local != nil}
	if c.Local != nil {
		k.Local = c.Local.String()
	}
	return k
}

// ConnectionDescriptorKey is the comparable (==-able) form of a
// ConnectionDescriptor, for use as a map key. The addresses are held in
// their string forms because their net.IP fields are not comparable.
type ConnectionDescriptorKey struct {
	Remote   string
	Local    string
	HasLocal bool
}
