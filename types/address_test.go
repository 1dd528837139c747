package types

import (
	"net"
	"testing"
)

func TestNewAddressFoldsV4MappedV6(t *testing.T) {
	mapped := net.ParseIP("::ffff:192.0.2.1")
	a := NewAddress(mapped)
	if a.Type() != AddressTypeIPv4 {
		t.Fatalf("Type() = %v, want IPv4", a.Type())
	}
	if a.String() != "192.0.2.1" {
		t.Fatalf("String() = %q", a.String())
	}
}

func TestAddressIsGlobal(t *testing.T) {
	cases := []struct {
		ip     string
		global bool
	}{
		{"8.8.8.8", true},
		{"127.0.0.1", false},
		{"10.0.0.1", false},
		{"192.168.1.1", false},
		{"169.254.1.1", false},
		{"::1", false},
		{"2001:db8::1", true}, // documentation range isn't filtered, matches net.IP semantics
	}
	for _, c := range cases {
		a := NewAddress(net.ParseIP(c.ip))
		if got := a.IsGlobal(); got != c.global {
			t.Errorf("IsGlobal(%s) = %v, want %v", c.ip, got, c.global)
		}
	}
}

func TestSocketAddressStringBracketsIPv6(t *testing.T) {
	s := NewSocketAddress(net.ParseIP("2001:db8::1"), 5150)
	if s.String() != "[2001:db8::1]:5150" {
		t.Fatalf("String() = %q", s.String())
	}
	s4 := NewSocketAddress(net.ParseIP("192.0.2.1"), 5150)
	if s4.String() != "192.0.2.1:5150" {
		t.Fatalf("String() = %q", s4.String())
	}
}

func TestParseSocketAddressRoundTrip(t *testing.T) {
	s, err := ParseSocketAddress("192.0.2.1:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Port != 8080 || s.Addr.String() != "192.0.2.1" {
		t.Fatalf("got %+v", s)
	}

	s6, err := ParseSocketAddress("[2001:db8::1]:443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s6.Port != 443 {
		t.Fatalf("got port %d, want 443", s6.Port)
	}
}

func TestParseSocketAddressRejectsGarbage(t *testing.T) {
	if _, err := ParseSocketAddress("not-an-address"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseSocketAddress("notanip:80"); err == nil {
		t.Fatal("expected error for invalid IP")
	}
}

func TestSocketAddressEqual(t *testing.T) {
	a := NewSocketAddress(net.ParseIP("192.0.2.1"), 80)
	b := NewSocketAddress(net.ParseIP("192.0.2.1"), 80)
	c := NewSocketAddress(net.ParseIP("192.0.2.2"), 80)
	if !a.Equal(b) {
		t.Fatal("expected equal")
	}
	if a.Equal(c) {
		t.Fatal("expected not equal")
	}
}
