package types

import (
	"net"
	"testing"
)

func remotePeerAddress() PeerAddress {
	return PeerAddress{Socket: NewSocketAddress(net.ParseIP("192.0.2.1"), 5150), Protocol: ProtocolUDP}
}

func TestConnectionDescriptorEqualUnbound(t *testing.T) {
	a := NewConnectionDescriptor(remotePeerAddress())
	b := NewConnectionDescriptor(remotePeerAddress())
	if !a.Equal(b) {
		t.Fatal("expected equal")
	}
}

func TestConnectionDescriptorEqualRequiresSameLocalPresence(t *testing.T) {
	unbound := NewConnectionDescriptor(remotePeerAddress())
	local := NewSocketAddress(net.ParseIP("198.51.100.1"), 4000)
	bound := NewConnectionDescriptorBound(remotePeerAddress(), local)
	if unbound.Equal(bound) {
		t.Fatal("a bound and unbound descriptor must not be equal")
	}
}

func TestConnectionDescriptorEqualDiffersByLocal(t *testing.T) {
	l1 := NewSocketAddress(net.ParseIP("198.51.100.1"), 4000)
	l2 := NewSocketAddress(net.ParseIP("198.51.100.2"), 4000)
	a := NewConnectionDescriptorBound(remotePeerAddress(), l1)
	b := NewConnectionDescriptorBound(remotePeerAddress(), l2)
	if a.Equal(b) {
		t.Fatal("expected not equal: different local addresses")
	}
}

func TestConnectionDescriptorKeyUsableAsMapKey(t *testing.T) {
	local := NewSocketAddress(net.ParseIP("198.51.100.1"), 4000)
	a := NewConnectionDescriptorBound(remotePeerAddress(), local)
	b := NewConnectionDescriptorBound(remotePeerAddress(), local)

	m := map[ConnectionDescriptorKey]int{}
	m[a.Key()] = 1
	if _, ok := m[b.Key()]; !ok {
		t.Fatal("equal descriptors produced different keys")
	}
}
