package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charlesrocket/veilid/types"
)

// UDPHandler multiplexes a single bound UDP socket across many logical
// connections, one per remote peer, since UDP itself has no per-peer
// accept step the way TCP does. Inbound datagrams from a remote address
// with no existing udpConnection are surfaced through OnInbound rather
// than through Accept — Accept always returns (nil, nil) for this
// handler, since there is no peekable per-connection stream to inspect.
type UDPHandler struct {
	conn  *net.UDPConn
	local types.SocketAddress

	mu    sync.Mutex
	peers map[types.ConnectionDescriptorKey]*udpConnection

	// OnInbound is called (if set) the first time a datagram arrives
	// from a remote address with no existing connection. Returning false
	// drops the datagram; returning true (or leaving OnInbound nil) makes
	// the handler create and register a connection for that remote, and
	// subsequent packets from it are routed to that connection.
	OnInbound func(remote types.SocketAddress) (accept bool)
}

// NewUDPHandler wraps an already-bound UDP socket and starts its
// dispatch loop.
func NewUDPHandler(conn *net.UDPConn) *UDPHandler {
	h := &UDPHandler{
		conn:  conn,
		peers: make(map[types.ConnectionDescriptorKey]*udpConnection),
	}
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		h.local = types.NewSocketAddress(la.IP, uint16(la.Port))
	}
	go h.dispatchLoop()
	return h
}

func (h *UDPHandler) Protocol() types.ProtocolType { return types.ProtocolUDP }

func (h *UDPHandler) dispatchLoop() {
	buf := make([]byte, 65536)
	for {
		n, raddr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		remote := types.NewSocketAddress(raddr.IP, uint16(raddr.Port))
		pa := types.PeerAddress{Socket: remote, Protocol: types.ProtocolUDP}
		desc := types.NewConnectionDescriptorBound(pa, h.local)
		key := desc.Key()

		h.mu.Lock()
		uc, ok := h.peers[key]
		if !ok {
			if h.OnInbound != nil && !h.OnInbound(remote) {
				h.mu.Unlock()
				continue
			}
			uc = newUDPConnection(h, desc, raddr)
			h.peers[key] = uc
		}
		h.mu.Unlock()

		payload := make([]byte, n)
		copy(payload, buf[:n])
		uc.deliver(payload)
	}
}

func (h *UDPHandler) forget(desc types.ConnectionDescriptor) {
	h.mu.Lock()
	delete(h.peers, desc.Key())
	h.mu.Unlock()
}

// Accept is always a no-op for UDP; see UDPHandler's doc comment.
func (h *UDPHandler) Accept(ctx context.Context, peekedBytes []byte, peerAddr types.SocketAddress, raw io.ReadWriteCloser) (Connection, error) {
	return nil, nil
}

func (h *UDPHandler) Connect(ctx context.Context, localAddr *types.SocketAddress, dialInfo types.DialInfo) (Connection, error) {
	if dialInfo.Protocol() != types.ProtocolUDP {
		return nil, &DialError{Cause: DialCauseConnect, Err: fmt.Errorf("transport: not a UDP dial info")}
	}
	raddr := dialInfo.Socket().ToUDPAddr()
	pa := types.PeerAddress{Socket: dialInfo.Socket(), Protocol: types.ProtocolUDP}
	desc := types.NewConnectionDescriptorBound(pa, h.local)

	h.mu.Lock()
	defer h.mu.Unlock()
	uc := newUDPConnection(h, desc, raddr)
	h.peers[desc.Key()] = uc
	return uc, nil
}

func (h *UDPHandler) SendUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	conn, err := net.DialUDP("udp", nil, dialInfo.Socket().ToUDPAddr())
	if err != nil {
		return &DialError{Cause: DialCauseConnect, Err: err}
	}
	defer conn.Close()
	_, err = conn.Write(payload)
	return err
}

func (h *UDPHandler) SendRecvUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte, timeout time.Duration) ([]byte, error) {
	if len(payload) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	conn, err := net.DialUDP("udp", nil, dialInfo.Socket().ToUDPAddr())
	if err != nil {
		return nil, &DialError{Cause: DialCauseConnect, Err: err}
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// udpConnection adapts one (local, remote) UDP pairing to the
// Connection interface. Inbound packets arrive via deliver from the
// owning handler's dispatch loop; writes go straight to the shared
// socket addressed at the remote.
type udpConnection struct {
	handler *UDPHandler
	desc    types.ConnectionDescriptor
	remote  *net.UDPAddr
	inbox   chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newUDPConnection(h *UDPHandler, desc types.ConnectionDescriptor, remote *net.UDPAddr) *udpConnection {
	return &udpConnection{
		handler: h,
		desc:    desc,
		remote:  remote,
		inbox:   make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *udpConnection) deliver(payload []byte) {
	select {
	case c.inbox <- payload:
	case <-c.closed:
	default:
		// Inbox full: drop, matching UDP's inherent unreliability
		// rather than blocking the shared dispatch loop.
	}
}

func (c *udpConnection) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.inbox:
		if len(p) > MaxMessageSize {
			return nil, ErrMessageTooLarge
		}
		return p, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *udpConnection) WriteMessage(ctx context.Context, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	_, err := c.handler.conn.WriteToUDP(payload, c.remote)
	return err
}

func (c *udpConnection) Descriptor() types.ConnectionDescriptor { return c.desc }

func (c *udpConnection) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.handler.forget(c.desc)
	})
	return nil
}
