package types

import (
	"encoding/json"
	"net"
	"testing"
)

func TestTypedKeyJSONRoundTrip(t *testing.T) {
	kind, _ := ParseCryptoKind("VLD0")
	var key NodeId
	key[0] = 0xAB
	key[31] = 0xCD
	tk := TypedKey{Kind: kind, Key: key}

	data, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got TypedKey
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != tk {
		t.Fatalf("got %v, want %v", got, tk)
	}
}

func TestDialInfoJSONRoundTrip(t *testing.T) {
	cases := []DialInfo{
		NewDialInfoUDP(NewSocketAddress(net.ParseIP("192.0.2.1"), 5150)),
		NewDialInfoTCP(NewSocketAddress(net.ParseIP("192.0.2.1"), 5150)),
		NewDialInfoWS(NewSocketAddress(net.ParseIP("192.0.2.1"), 5150), "/ws"),
		NewDialInfoWSS(NewSocketAddress(net.ParseIP("192.0.2.1"), 443), "example.org", "/ws"),
	}
	for _, di := range cases {
		data, err := json.Marshal(di)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", di, err)
		}
		var got DialInfo
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if !got.Equal(di) {
			t.Fatalf("round trip mismatch: got %v, want %v", got, di)
		}
	}
}

func TestSocketAddressJSONRoundTrip(t *testing.T) {
	s := NewSocketAddress(net.ParseIP("2001:db8::1"), 5150)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got SocketAddress
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Equal(s) {
		t.Fatalf("got %v, want %v", got, s)
	}
}
