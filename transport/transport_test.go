package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/charlesrocket/veilid/types"
)

func tcpDialInfo(addr *net.TCPAddr) types.DialInfo {
	return types.NewDialInfoTCP(types.NewSocketAddress(addr.IP, uint16(addr.Port)))
}

func TestIsBadPort(t *testing.T) {
	bad := []uint16{1, 22, 53, 80 - 1, 143, 993, 6667}
	for _, p := range bad {
		if !IsBadPort(p) {
			t.Errorf("IsBadPort(%d) = false, want true", p)
		}
	}
	good := []uint16{5150, 8080, 40000, 65000}
	for _, p := range good {
		if IsBadPort(p) {
			t.Errorf("IsBadPort(%d) = true, want false", p)
		}
	}
}

func TestSelectPortPrefersConfigured(t *testing.T) {
	bound := map[uint16]bool{}
	tryBind := func(p uint16) bool {
		if bound[p] {
			return false
		}
		bound[p] = true
		return true
	}
	port, err := SelectPort(5150, 5150, tryBind)
	if err != nil {
		t.Fatalf("SelectPort: %v", err)
	}
	if port != 5150 {
		t.Fatalf("got port %d, want 5150", port)
	}
}

func TestSelectPortSkipsBadPorts(t *testing.T) {
	tryBind := func(p uint16) bool { return true }
	port, err := SelectPort(0, 5150, tryBind)
	if err != nil {
		t.Fatalf("SelectPort: %v", err)
	}
	if IsBadPort(port) {
		t.Fatalf("SelectPort returned a bad port: %d", port)
	}
}

func TestSelectPortFallsThroughOccupied(t *testing.T) {
	occupied := map[uint16]bool{5150: true, 5151: true}
	tryBind := func(p uint16) bool { return !occupied[p] }
	port, err := SelectPort(5150, 5150, tryBind)
	if err != nil {
		t.Fatalf("SelectPort: %v", err)
	}
	if port == 5150 || port == 5151 {
		t.Fatalf("SelectPort returned an occupied port: %d", port)
	}
}

func TestSelectPortExhausted(t *testing.T) {
	_, err := SelectPort(0, 65535, func(uint16) bool { return false })
	if err != ErrNoFreePort {
		t.Fatalf("SelectPort() = %v, want ErrNoFreePort", err)
	}
}

func TestTCPConnectionRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	var serverPayload []byte
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer raw.Close()
		conn := &tcpConnection{raw: raw}
		p, err := conn.ReadMessage(context.Background())
		serverPayload = p
		serverDone <- err
	}()

	handler := TCPHandler{}
	addr := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dialInfo := tcpDialInfo(addr)
	conn, err := handler.Connect(ctx, nil, dialInfo)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello tcp")
	if err := conn.WriteMessage(ctx, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server ReadMessage: %v", err)
	}
	if string(serverPayload) != string(payload) {
		t.Fatalf("got %q, want %q", serverPayload, payload)
	}
}

func TestTCPMessageTooLarge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	handler := TCPHandler{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		raw, err := ln.Accept()
		if err == nil {
			raw.Close()
		}
	}()

	conn, err := handler.Connect(ctx, nil, tcpDialInfo(addr))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	oversized := make([]byte, MaxMessageSize+1)
	if err := conn.WriteMessage(ctx, oversized); err != ErrMessageTooLarge {
		t.Fatalf("WriteMessage(oversized) = %v, want ErrMessageTooLarge", err)
	}
}
