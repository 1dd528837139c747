package types

import (
	"net"
	"testing"
)

func TestDialInfoWSSRequiresHostname(t *testing.T) {
	addr := NewSocketAddress(net.ParseIP("192.0.2.1"), 443)
	bare := NewDialInfoWSS(addr, "", "/ws")
	if err := bare.Validate(); err == nil {
		t.Fatal("expected validation error for WSS with no hostname")
	}

	named := NewDialInfoWSS(addr, "example.org", "/ws")
	if err := named.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDialInfoOtherProtocolsDontRequireHostname(t *testing.T) {
	addr := NewSocketAddress(net.ParseIP("192.0.2.1"), 5150)
	for _, di := range []DialInfo{
		NewDialInfoUDP(addr),
		NewDialInfoTCP(addr),
		NewDialInfoWS(addr, "/ws"),
	} {
		if err := di.Validate(); err != nil {
			t.Errorf("%v: unexpected error: %v", di.Protocol(), err)
		}
	}
}

func TestDialInfoPeerAddress(t *testing.T) {
	addr := NewSocketAddress(net.ParseIP("192.0.2.1"), 5150)
	di := NewDialInfoTCP(addr)
	pa := di.PeerAddress()
	if pa.Protocol != ProtocolTCP || !pa.Socket.Equal(addr) {
		t.Fatalf("got %+v", pa)
	}
}

func TestDialInfoEqual(t *testing.T) {
	addr := NewSocketAddress(net.ParseIP("192.0.2.1"), 5150)
	a := NewDialInfoWS(addr, "/ws")
	b := NewDialInfoWS(addr, "/ws")
	c := NewDialInfoWS(addr, "/other")
	if !a.Equal(b) {
		t.Fatal("expected equal")
	}
	if a.Equal(c) {
		t.Fatal("expected not equal due to differing request path")
	}
}
