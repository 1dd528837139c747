package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/charlesrocket/veilid/types"
)

// TCPHandler implements the TCP protocol contract: each message is
// framed with a 2-byte big-endian length prefix (spec §4.1).
type TCPHandler struct{}

func (TCPHandler) Protocol() types.ProtocolType { return types.ProtocolTCP }

// Accept wraps an already-split TCP connection; TCP has no signature to
// peek beyond "a TCP connection was accepted", so this always succeeds.
func (TCPHandler) Accept(ctx context.Context, peekedBytes []byte, peerAddr types.SocketAddress, raw io.ReadWriteCloser) (Connection, error) {
	local := types.SocketAddress{}
	if tc, ok := raw.(net.Conn); ok {
		if la, ok := tc.LocalAddr().(*net.TCPAddr); ok {
			local = types.NewSocketAddress(la.IP, uint16(la.Port))
		}
	}
	pa := types.PeerAddress{Socket: peerAddr, Protocol: types.ProtocolTCP}
	desc := types.NewConnectionDescriptorBound(pa, local)
	return &tcpConnection{raw: raw, desc: desc}, nil
}

func (TCPHandler) Connect(ctx context.Context, localAddr *types.SocketAddress, dialInfo types.DialInfo) (Connection, error) {
	if dialInfo.Protocol() != types.ProtocolTCP {
		return nil, &DialError{Cause: DialCauseConnect, Err: io.ErrClosedPipe}
	}
	dialer := net.Dialer{}
	if localAddr != nil {
		dialer.LocalAddr = localAddr.ToTCPAddr()
	}
	deadline, ok := ctx.Deadline()
	if ok {
		dialer.Deadline = deadline
	}
	conn, err := dialer.DialContext(ctx, "tcp", dialInfo.Socket().String())
	if err != nil {
		return nil, &DialError{Cause: DialCauseConnect, Err: err}
	}
	local := types.SocketAddress{}
	if la, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		local = types.NewSocketAddress(la.IP, uint16(la.Port))
	}
	pa := types.PeerAddress{Socket: dialInfo.Socket(), Protocol: types.ProtocolTCP}
	desc := types.NewConnectionDescriptorBound(pa, local)
	return &tcpConnection{raw: conn, desc: desc}, nil
}

func (h TCPHandler) SendUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte) error {
	conn, err := h.Connect(ctx, nil, dialInfo)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.WriteMessage(ctx, payload)
}

func (h TCPHandler) SendRecvUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte, timeout time.Duration) ([]byte, error) {
	conn, err := h.Connect(ctx, nil, dialInfo)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.WriteMessage(ctx, payload); err != nil {
		return nil, err
	}
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.ReadMessage(readCtx)
}

// tcpConnection frames messages with a 2-byte big-endian length prefix.
type tcpConnection struct {
	raw  io.ReadWriteCloser
	desc types.ConnectionDescriptor
}

func (c *tcpConnection) ReadMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if conn, ok := c.raw.(net.Conn); ok {
			conn.SetReadDeadline(deadline)
			defer conn.SetReadDeadline(time.Time{})
		}
	}
	var lenBuf [2]byte
	if _, err := io.ReadFull(c.raw, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(lenBuf[:])
	if int(size) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(c.raw, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *tcpConnection) WriteMessage(ctx context.Context, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := c.raw.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.raw.Write(payload)
	return err
}

func (c *tcpConnection) Descriptor() types.ConnectionDescriptor { return c.desc }

func (c *tcpConnection) Close() error { return c.raw.Close() }
