package types

import (
	"encoding/json"
	"fmt"
)

// DialInfo is a tagged variant describing how to reach a node over a
// specific protocol (spec §3 "DialInfo"). WS and WSS additionally carry a
// request path, since both ride over an HTTP upgrade.
type DialInfo struct {
	protocol    ProtocolType
	socket      SocketAddress
	hostname    string // set for WS/WSS when dialing by name rather than bare address
	requestPath string // set for WS/WSS
}

// NewDialInfoUDP builds a DialInfo for the UDP protocol.
func NewDialInfoUDP(addr SocketAddress) DialInfo {
	return DialInfo{protocol: ProtocolUDP, socket: addr}
}

// NewDialInfoTCP builds a DialInfo for the TCP protocol.
func NewDialInfoTCP(addr SocketAddress) DialInfo {
	return DialInfo{protocol: ProtocolTCP, socket: addr}
}

// NewDialInfoWS builds a DialInfo for plain WebSocket.
func NewDialInfoWS(addr SocketAddress, requestPath string) DialInfo {
	return DialInfo{protocol: ProtocolWS, socket: addr, requestPath: requestPath}
}

// NewDialInfoWSS builds a DialInfo for TLS WebSocket. hostname is required:
// a WSS DialInfo addressed by bare IP cannot present a matching certificate
// (spec §3 invariant: "WSS requires a hostname, not a bare address").
func NewDialInfoWSS(addr SocketAddress, hostname, requestPath string) DialInfo {
	return DialInfo{protocol: ProtocolWSS, socket: addr, hostname: hostname, requestPath: requestPath}
}

func (d DialInfo) Protocol() ProtocolType   { return d.protocol }
func (d DialInfo) Socket() SocketAddress    { return d.socket }
func (d DialInfo) Hostname() string         { return d.hostname }
func (d DialInfo) RequestPath() string      { return d.requestPath }
func (d DialInfo) AddressType() AddressType { return d.socket.Addr.Type() }

// PeerAddress projects the DialInfo down to the PeerAddress used as a
// ConnectionDescriptor key.
func (d DialInfo) PeerAddress() PeerAddress {
	return PeerAddress{Socket: d.socket, Protocol: d.protocol}
}

// Validate checks the invariant from spec §3: a WSS DialInfo must carry a
// hostname, since a bare address cannot be validated against a certificate.
func (d DialInfo) Validate() error {
	if d.protocol == ProtocolWSS && d.hostname == "" {
		return fmt.Errorf("types: WSS DialInfo requires a hostname, got bare address %s", d.socket)
	}
	return nil
}

func (d DialInfo) String() string {
	switch d.protocol {
	case ProtocolWS, ProtocolWSS:
		host := d.hostname
		if host == "" {
			host = d.socket.String()
		}
		return fmt.Sprintf("%s://%s%s", d.protocol, host, d.requestPath)
	default:
		return fmt.Sprintf("%s://%s", d.protocol, d.socket)
	}
}

func (d DialInfo) Equal(o DialInfo) bool {
	return d.protocol == o.protocol && d.socket.Equal(o.socket) &&
		d.hostname == o.hostname && d.requestPath == o.requestPath
}

// dialInfoWire is the JSON wire shape of a DialInfo, used by the direct
// bootstrap reply (spec §6 "Direct bootstrap": "UTF-8 JSON array of
// PeerInfo"). DialInfo's fields are unexported so the variant's
// invariants (WSS requires a hostname) can only be built through the
// constructors; these methods are the one sanctioned bypass for wire
// transcoding.
type dialInfoWire struct {
	Protocol    string        `json:"protocol"`
	Socket      SocketAddress `json:"socket"`
	Hostname    string        `json:"hostname,omitempty"`
	RequestPath string        `json:"request_path,omitempty"`
}

func (d DialInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(dialInfoWire{
		Protocol:    d.protocol.String(),
		Socket:      d.socket,
		Hostname:    d.hostname,
		RequestPath: d.requestPath,
	})
}

func (d *DialInfo) UnmarshalJSON(data []byte) error {
	var w dialInfoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Protocol {
	case ProtocolUDP.String():
		*d = NewDialInfoUDP(w.Socket)
	case ProtocolTCP.String():
		*d = NewDialInfoTCP(w.Socket)
	case ProtocolWS.String():
		*d = NewDialInfoWS(w.Socket, w.RequestPath)
	case ProtocolWSS.String():
		*d = NewDialInfoWSS(w.Socket, w.Hostname, w.RequestPath)
	default:
		return fmt.Errorf("types: unknown DialInfo protocol %q", w.Protocol)
	}
	return nil
}
