package limits

import (
	"net"
	"testing"
	"time"

	"github.com/charlesrocket/veilid/mclock"
)

func TestAddEnforcesCountLimit(t *testing.T) {
	var clock mclock.Simulated
	l := New(2, 32, 56, 128, &clock)
	ip := net.ParseIP("192.0.2.1")

	if err := l.Add(ip); err != nil {
		t.Fatalf("1st Add: %v", err)
	}
	if err := l.Add(ip); err != nil {
		t.Fatalf("2nd Add: %v", err)
	}
	if err := l.Add(ip); err != ErrCountExceeded {
		t.Fatalf("3rd Add = %v, want ErrCountExceeded", err)
	}
}

func TestRemoveFreesASlot(t *testing.T) {
	var clock mclock.Simulated
	l := New(1, 32, 56, 128, &clock)
	ip := net.ParseIP("192.0.2.1")

	if err := l.Add(ip); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Add(ip); err != ErrCountExceeded {
		t.Fatalf("Add over limit = %v, want ErrCountExceeded", err)
	}
	if err := l.Remove(ip); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := l.Add(ip); err != nil {
		t.Fatalf("Add after Remove: %v", err)
	}
}

func TestRemoveUnknownAddress(t *testing.T) {
	var clock mclock.Simulated
	l := New(2, 32, 56, 128, &clock)
	if err := l.Remove(net.ParseIP("192.0.2.1")); err != ErrNotInTable {
		t.Fatalf("Remove(unknown) = %v, want ErrNotInTable", err)
	}
}

func TestFrequencyLimitAndWindowExpiry(t *testing.T) {
	var clock mclock.Simulated
	l := New(1000, 1000, 56, 2, &clock)
	ip := net.ParseIP("192.0.2.1")

	if err := l.Add(ip); err != nil {
		t.Fatalf("1st Add: %v", err)
	}
	if err := l.Add(ip); err != nil {
		t.Fatalf("2nd Add: %v", err)
	}
	if err := l.Add(ip); err != ErrRateExceeded {
		t.Fatalf("3rd Add within window = %v, want ErrRateExceeded", err)
	}

	clock.Run(61 * time.Second)
	if err := l.Add(ip); err != nil {
		t.Fatalf("Add after window expiry: %v", err)
	}
}

func TestIPv4AddressesAreIndividualHosts(t *testing.T) {
	var clock mclock.Simulated
	l := New(1, 32, 56, 128, &clock)
	if err := l.Add(net.ParseIP("192.0.2.1")); err != nil {
		t.Fatalf("Add(.1): %v", err)
	}
	if err := l.Add(net.ParseIP("192.0.2.2")); err != nil {
		t.Fatalf("Add(.2) should not share a limit with .1: %v", err)
	}
}

func TestIPv6AddressesShareAPrefixBlock(t *testing.T) {
	var clock mclock.Simulated
	l := New(32, 1, 64, 128, &clock)
	a := net.ParseIP("2001:db8:0:0:aaaa::1")
	b := net.ParseIP("2001:db8:0:0:bbbb::2")

	if err := l.Add(a); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if err := l.Add(b); err != ErrCountExceeded {
		t.Fatalf("Add(b) sharing a's /64 = %v, want ErrCountExceeded", err)
	}
}

func TestIPv6AddressesInDifferentPrefixesAreIndependent(t *testing.T) {
	var clock mclock.Simulated
	l := New(32, 1, 64, 128, &clock)
	a := net.ParseIP("2001:db8:0:0::1")
	b := net.ParseIP("2001:db8:0:1::1")

	if err := l.Add(a); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if err := l.Add(b); err != nil {
		t.Fatalf("Add(b) in a different /64: %v", err)
	}
}
