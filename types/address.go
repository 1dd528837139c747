package types

import (
	"encoding/json"
	"fmt"
	"net"
)

// AddressType distinguishes the IP family of an Address.
type AddressType int

const (
	AddressTypeIPv4 AddressType = iota
	AddressTypeIPv6
)

func (a AddressType) String() string {
	if a == AddressTypeIPv4 {
		return "IPv4"
	}
	return "IPv6"
}

// Address wraps a net.IP with canonicalization: an IPv4-mapped IPv6
// address folds to plain IPv4 (spec §3 "Address / SocketAddress").
type Address struct {
	ip net.IP
}

// NewAddress canonicalizes ip and returns an Address.
func NewAddress(ip net.IP) Address {
	if v4 := ip.To4(); v4 != nil {
		return Address{ip: v4}
	}
	return Address{ip: ip.To16()}
}

// IP returns the underlying net.IP.
func (a Address) IP() net.IP { return a.ip }

// Type reports whether the address is IPv4 or IPv6.
func (a Address) Type() AddressType {
	if a.ip.To4() != nil {
		return AddressTypeIPv4
	}
	return AddressTypeIPv6
}

// IsGlobal reports whether the address is publicly routable: not loopback,
// not unspecified, not link-local, and not a private (RFC1918/RFC4193)
// block.
func (a Address) IsGlobal() bool {
	ip := a.ip
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsMulticast() {
		return false
	}
	return true
}

func (a Address) String() string {
	if a.ip == nil {
		return "<nil>"
	}
	return a.ip.String()
}

// Equal reports whether two addresses denote the same canonical IP.
func (a Address) Equal(b Address) bool {
	return a.ip.Equal(b.ip)
}

// MarshalJSON renders the address as its string form, matching the
// schema the Rust bootstrap JSON reply uses for addresses.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON parses the string form produced by MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return fmt.Errorf("types: invalid address %q", s)
	}
	*a = NewAddress(ip)
	return nil
}

// SocketAddress is an Address plus a port.
type SocketAddress struct {
	Addr Address
	Port uint16
}

func NewSocketAddress(ip net.IP, port uint16) SocketAddress {
	return SocketAddress{Addr: NewAddress(ip), Port: port}
}

// MarshalJSON renders the socket address as "host:port" ("[host]:port"
// for IPv6).
func (s SocketAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (s *SocketAddress) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSocketAddress(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s SocketAddress) String() string {
	if s.Addr.Type() == AddressTypeIPv6 {
		return fmt.Sprintf("[%s]:%d", s.Addr, s.Port)
	}
	return fmt.Sprintf("%s:%d", s.Addr, s.Port)
}

func (s SocketAddress) Equal(o SocketAddress) bool {
	return s.Port == o.Port && s.Addr.Equal(o.Addr)
}

// ToUDPAddr converts to the standard library representation.
func (s SocketAddress) ToUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: s.Addr.IP(), Port: int(s.Port)}
}

// ToTCPAddr converts to the standard library representation.
func (s SocketAddress) ToTCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: s.Addr.IP(), Port: int(s.Port)}
}

// ParseSocketAddress parses a "host:port" string (IPv6 with brackets).
func ParseSocketAddress(s string) (SocketAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return SocketAddress{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return SocketAddress{}, fmt.Errorf("types: invalid IP in %q", s)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return SocketAddress{}, fmt.Errorf("types: invalid port in %q: %w", s, err)
	}
	return NewSocketAddress(ip, uint16(port)), nil
}
