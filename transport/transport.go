// Package transport implements the protocol handler contracts of spec
// §4.1: accept/connect/send_unbound/send_recv_unbound over UDP, TCP,
// WS, and WSS, plus automatic port selection with the bad-port
// denylist.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charlesrocket/veilid/types"
)

// MaxMessageSize bounds a single envelope; larger inbound frames are
// refused with ErrMessageTooLarge (spec §4.1).
const MaxMessageSize = 65536

var (
	ErrHandshakeTimeout = errors.New("transport: handshake timeout")
	ErrMessageTooLarge  = errors.New("transport: message too large")
	ErrNoFreePort       = errors.New("transport: no free port in range")
)

// DialCause classifies why an outbound connect failed (spec §4.1
// "DialFailed{cause}").
type DialCause int

const (
	DialCauseResolve DialCause = iota
	DialCauseConnect
	DialCauseTLS
	DialCauseHandshake
)

func (c DialCause) String() string {
	switch c {
	case DialCauseResolve:
		return "resolve"
	case DialCauseConnect:
		return "connect"
	case DialCauseTLS:
		return "tls"
	case DialCauseHandshake:
		return "handshake"
	default:
		return "unknown"
	}
}

// DialError wraps a failed outbound connection attempt with its cause.
type DialError struct {
	Cause DialCause
	Err   error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("transport: dial failed (%s): %v", e.Cause, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Connection is a framed, bidirectional message stream: one Read
// delivers exactly one envelope-sized payload, matching the framing
// spec §4.1 assigns each protocol (datagram boundaries for UDP, a
// 2-byte length prefix for TCP, binary frames for WS/WSS).
type Connection interface {
	// ReadMessage blocks for the next whole message. Returns
	// ErrMessageTooLarge if a frame declares a size over
	// MaxMessageSize without consuming the oversized payload from the
	// stream where that isn't already implied by the transport itself.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends one message, applying this connection's
	// framing.
	WriteMessage(ctx context.Context, payload []byte) error
	// Descriptor returns the ConnectionDescriptor identifying this
	// connection for the connection table.
	Descriptor() types.ConnectionDescriptor
	io.Closer
}

// Handler is the per-protocol contract of spec §4.1.
type Handler interface {
	Protocol() types.ProtocolType

	// Accept inspects peekedBytes (already read off the stream, but not
	// consumed from the caller's perspective — the caller still owns
	// them) and returns a Connection if they match this protocol's
	// signature, or (nil, nil) to let the next handler try.
	Accept(ctx context.Context, peekedBytes []byte, peerAddr types.SocketAddress, raw io.ReadWriteCloser) (Connection, error)

	// Connect dials dialInfo, optionally from localAddr.
	Connect(ctx context.Context, localAddr *types.SocketAddress, dialInfo types.DialInfo) (Connection, error)

	// SendUnbound fires payload at dialInfo using a fresh ephemeral
	// binding torn down immediately after, without waiting for a
	// reply.
	SendUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte) error

	// SendRecvUnbound fires payload and waits up to timeout for exactly
	// one reply over the same ephemeral binding.
	SendRecvUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte, timeout time.Duration) ([]byte, error)
}

// badPorts is the reserved well-known service port set that automatic
// port selection must skip (spec §6 "Bad-port denylist").
var badPorts = buildBadPortSet()

func buildBadPortSet() map[uint16]struct{} {
	set := map[uint16]struct{}{}
	add := func(ports ...int) {
		for _, p := range ports {
			set[uint16(p)] = struct{}{}
		}
	}
	add(1, 7, 9, 11, 13, 15, 17, 19)
	addRange(set, 20, 25)
	add(37, 42, 43, 53, 77, 79, 87, 95)
	addRange(set, 101, 104)
	addRange(set, 109, 111)
	add(113, 115, 117, 119, 123, 135, 139, 143, 179, 389, 427, 465)
	addRange(set, 512, 515)
	add(526)
	addRange(set, 530, 532)
	add(540, 548, 556, 563, 587, 601, 636, 993, 995, 2049, 3659, 4045, 6000)
	addRange(set, 6665, 6669)
	add(6697)
	return set
}

func addRange(set map[uint16]struct{}, lo, hi int) {
	for p := lo; p <= hi; p++ {
		set[uint16(p)] = struct{}{}
	}
}

// IsBadPort reports whether port is in the reserved well-known-service
// denylist.
func IsBadPort(port uint16) bool {
	_, bad := badPorts[port]
	return bad
}

// SelectPort tries preferred first (if nonzero), then scans upward from
// base to 65535 skipping bad ports, calling tryBind for each candidate
// until it returns true (the caller successfully reserved the port) or
// the range is exhausted.
func SelectPort(preferred uint16, base uint16, tryBind func(uint16) bool) (uint16, error) {
	if preferred != 0 {
		if !IsBadPort(preferred) && tryBind(preferred) {
			return preferred, nil
		}
	}
	for port := uint32(base); port <= 65535; port++ {
		p := uint16(port)
		if IsBadPort(p) {
			continue
		}
		if tryBind(p) {
			return p, nil
		}
	}
	return 0, ErrNoFreePort
}
