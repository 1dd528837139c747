package nodeinfo

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/charlesrocket/veilid/cryptosuite"
	"github.com/charlesrocket/veilid/types"
)

func sampleInfo() NodeInfo {
	addr := types.NewSocketAddress(net.ParseIP("192.0.2.1"), 5150)
	return NodeInfo{
		DialInfoDetails: []DialInfoDetail{
			{DialInfo: types.NewDialInfoUDP(addr), Class: DialInfoClassDirect, NetworkClass: types.NetworkClassServer},
		},
		MinEnvelopeVer:   1,
		MaxEnvelopeVer:   1,
		OutboundProtos:   types.AllProtocolTypes(),
		WillRoute:        true,
		WillSignal:       true,
		WillRelay:        true,
		WillValidateDial: true,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sys := cryptosuite.MustLookup(cryptosuite.KindVLD0)
	kp, err := sys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	sni, err := Sign(cryptosuite.KindVLD0, kp.Secret, sampleInfo(), 1000)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(cryptosuite.KindVLD0, kp.Public.Key, sni) {
		t.Fatal("Verify rejected a genuine SignedNodeInfo")
	}
}

func TestVerifyRejectsTamperedInfo(t *testing.T) {
	sys := cryptosuite.MustLookup(cryptosuite.KindVLD0)
	kp, err := sys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sni, err := Sign(cryptosuite.KindVLD0, kp.Secret, sampleInfo(), 1000)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sni.Info.WillRelay = !sni.Info.WillRelay
	if Verify(cryptosuite.KindVLD0, kp.Public.Key, sni) {
		t.Fatal("Verify accepted a tampered NodeInfo")
	}
}

func TestNewerThanMonotonicity(t *testing.T) {
	older := SignedNodeInfo{TimestampUs: 100}
	newer := SignedNodeInfo{TimestampUs: 200}
	same := SignedNodeInfo{TimestampUs: 100}

	if !newer.NewerThan(&older) {
		t.Fatal("expected newer to supersede older")
	}
	if older.NewerThan(&newer) {
		t.Fatal("older must not supersede newer")
	}
	if same.NewerThan(&older) {
		t.Fatal("equal timestamps must not count as newer")
	}
	if !newer.NewerThan(nil) {
		t.Fatal("any update must be accepted when there is no prior value")
	}
}

func TestPeerInfoJSONRoundTrip(t *testing.T) {
	sys := cryptosuite.MustLookup(cryptosuite.KindVLD0)
	kp, err := sys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sni, err := Sign(cryptosuite.KindVLD0, kp.Secret, sampleInfo(), Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pi := PeerInfo{NodeID: kp.Public, Signed: sni}

	data, err := json.Marshal([]PeerInfo{pi})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got []PeerInfo
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d peer infos, want 1", len(got))
	}
	if got[0].NodeID != pi.NodeID {
		t.Fatalf("node id mismatch: got %v, want %v", got[0].NodeID, pi.NodeID)
	}
	if !Verify(cryptosuite.KindVLD0, got[0].NodeID.Key, got[0].Signed) {
		t.Fatal("round-tripped PeerInfo failed signature verification")
	}
}
