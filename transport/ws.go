package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charlesrocket/veilid/types"
)

// WSHandler implements the WS/WSS protocol contract over binary
// websocket frames (spec §4.1, §6 "WS/WSS"). secure selects ws:// vs
// wss:// dialing and TLS vs plain upgrade on accept.
type WSHandler struct {
	secure      bool
	requestPath string
	upgrader    websocket.Upgrader
	tlsConfig   *tls.Config
}

func NewWSHandler(requestPath string) *WSHandler {
	return &WSHandler{requestPath: requestPath, upgrader: websocket.Upgrader{}}
}

func NewWSSHandler(requestPath string, tlsConfig *tls.Config) *WSHandler {
	return &WSHandler{secure: true, requestPath: requestPath, upgrader: websocket.Upgrader{}, tlsConfig: tlsConfig}
}

func (h *WSHandler) Protocol() types.ProtocolType {
	if h.secure {
		return types.ProtocolWSS
	}
	return types.ProtocolWS
}

// Accept upgrades an already-accepted TCP (or TLS) connection to a
// websocket connection, matching the handshake path "GET
// <configured-path>[/ ]" of spec §6.
func (h *WSHandler) Accept(ctx context.Context, peekedBytes []byte, peerAddr types.SocketAddress, raw io.ReadWriteCloser) (Connection, error) {
	conn, ok := raw.(net.Conn)
	if !ok {
		return nil, fmt.Errorf("transport: WS accept requires a net.Conn")
	}
	httpConn := &acceptedConn{Conn: conn, buffered: peekedBytes}

	var wsConn *websocket.Conn
	var upgradeErr error
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != h.requestPath && r.URL.Path != h.requestPath+"/" {
				http.NotFound(w, r)
				return
			}
			c, err := h.upgrader.Upgrade(w, r, nil)
			if err != nil {
				upgradeErr = err
				return
			}
			wsConn = c
		}),
	}
	// Serve exactly one request on this connection, then stop: the
	// handshake is complete and subsequent frames are raw websocket,
	// not further HTTP requests.
	go server.Serve(&singleConnListener{conn: httpConn})

	select {
	case <-waitForUpgrade(&wsConn, &upgradeErr):
	case <-ctx.Done():
		return nil, ErrHandshakeTimeout
	}
	if upgradeErr != nil {
		return nil, fmt.Errorf("transport: WS upgrade failed: %w", upgradeErr)
	}
	if wsConn == nil {
		return nil, ErrHandshakeTimeout
	}

	local := types.SocketAddress{}
	if la, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		local = types.NewSocketAddress(la.IP, uint16(la.Port))
	}
	pa := types.PeerAddress{Socket: peerAddr, Protocol: h.Protocol()}
	desc := types.NewConnectionDescriptorBound(pa, local)
	return &wsConnection{conn: wsConn, desc: desc}, nil
}

func waitForUpgrade(wsConn **websocket.Conn, upgradeErr *error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for *wsConn == nil && *upgradeErr == nil {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	return done
}

func (h *WSHandler) Connect(ctx context.Context, localAddr *types.SocketAddress, dialInfo types.DialInfo) (Connection, error) {
	scheme := "ws"
	if h.secure {
		scheme = "wss"
	}
	host := dialInfo.Hostname()
	if host == "" {
		host = dialInfo.Socket().String()
	}
	u := url.URL{Scheme: scheme, Host: host, Path: dialInfo.RequestPath()}

	dialer := websocket.Dialer{TLSClientConfig: h.tlsConfig}
	if localAddr != nil {
		netDialer := &net.Dialer{LocalAddr: localAddr.ToTCPAddr()}
		dialer.NetDialContext = netDialer.DialContext
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &DialError{Cause: DialCauseHandshake, Err: err}
	}

	local := types.SocketAddress{}
	if la, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		local = types.NewSocketAddress(la.IP, uint16(la.Port))
	}
	pa := types.PeerAddress{Socket: dialInfo.Socket(), Protocol: h.Protocol()}
	desc := types.NewConnectionDescriptorBound(pa, local)
	return &wsConnection{conn: conn, desc: desc}, nil
}

func (h *WSHandler) SendUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte) error {
	conn, err := h.Connect(ctx, nil, dialInfo)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.WriteMessage(ctx, payload)
}

func (h *WSHandler) SendRecvUnbound(ctx context.Context, dialInfo types.DialInfo, payload []byte, timeout time.Duration) ([]byte, error) {
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

type wsConnection struct {
	conn *websocket.Conn
	desc types.ConnectionDescriptor
}

func (c *wsConnection) ReadMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

func (c *wsConnection) WriteMessage(ctx context.Context, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsConnection) Descriptor() types.ConnectionDescriptor { return c.desc }

func (c *wsConnection) Close() error { return c.conn.Close() }

// acceptedConn lets Accept hand the http.Server a connection whose
// initial bytes were already peeked by the caller's protocol-sniffing
// dispatcher, by replaying those bytes ahead of the live socket.
type acceptedConn struct {
	net.Conn
	buffered []byte
}

func (c *acceptedConn) Read(p []byte) (int, error) {
	if len(c.buffered) > 0 {
		n := copy(p, c.buffered)
		c.buffered = c.buffered[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// singleConnListener hands out exactly one connection then blocks,
// so http.Server.Serve can upgrade a single already-accepted socket
// without listening on its own port.
type singleConnListener struct {
	conn net.Conn
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.conn == nil {
		select {}
	}
	c := l.conn
	l.conn = nil
	return c, nil
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }
