// Package nodeinfo implements the node-info data model of spec §3:
// SignedNodeInfo, NodeInfo, DialInfoDetail, and PeerInfo, plus the
// signature and monotonic-timestamp invariants that guard updates to
// them.
package nodeinfo

import (
	"fmt"
	"time"

	"github.com/charlesrocket/veilid/cryptosuite"
	"github.com/charlesrocket/veilid/types"
)

// DialInfoClass ranks how directly a DialInfo can be used, mirroring the
// reachability ladder of types.NetworkClass but scoped to one dial
// method rather than the whole node.
type DialInfoClass int

const (
	DialInfoClassDirect DialInfoClass = iota
	DialInfoClassMapped
	DialInfoClassFullConeNAT
	DialInfoClassAddressRestrictedNAT
	DialInfoClassPortRestrictedNAT
)

func (c DialInfoClass) String() string {
	switch c {
	case DialInfoClassDirect:
		return "Direct"
	case DialInfoClassMapped:
		return "Mapped"
	case DialInfoClassFullConeNAT:
		return "FullConeNAT"
	case DialInfoClassAddressRestrictedNAT:
		return "AddressRestrictedNAT"
	case DialInfoClassPortRestrictedNAT:
		return "PortRestrictedNAT"
	default:
		return "Unknown"
	}
}

// DialInfoDetail pairs a DialInfo with its reachability class and the
// network class of the node that published it (spec §3: "NodeInfo
// enumerates dial-info detail entries").
type DialInfoDetail struct {
	DialInfo     types.DialInfo
	Class        DialInfoClass
	NetworkClass types.NetworkClass
}

// NodeInfo is the unsigned body of a node's advertised reachability and
// capability set.
type NodeInfo struct {
	DialInfoDetails  []DialInfoDetail
	MinEnvelopeVer   uint8
	MaxEnvelopeVer   uint8
	OutboundProtos   types.ProtocolTypeSet
	WillRoute        bool
	WillTunnel       bool
	WillSignal       bool
	WillRelay        bool
	WillValidateDial bool
}

// SignedNodeInfo is a NodeInfo plus the monotonic timestamp and signature
// that authenticate it (spec §3 "SignedNodeInfo").
type SignedNodeInfo struct {
	Info      NodeInfo
	TimestampUs int64
	Signature []byte
}

// signingBytes produces a deterministic byte representation of a NodeInfo
// plus timestamp, used as the message both Sign and Verify operate over.
// It is intentionally simple (fixed field order, fixed-width integers)
// rather than going through a general-purpose encoder, since it never
// needs to be parsed back — only reproduced identically by signer and
// verifier.
func signingBytes(info NodeInfo, timestampUs int64) []byte {
	buf := make([]byte, 0, 64+16*len(info.DialInfoDetails))
	buf = appendUint64(buf, uint64(timestampUs))
	buf = append(buf, info.MinEnvelopeVer, info.MaxEnvelopeVer)
	buf = appendUint64(buf, uint64(info.OutboundProtos))
	buf = appendBool(buf, info.WillRoute)
	buf = appendBool(buf, info.WillTunnel)
	buf = appendBool(buf, info.WillSignal)
	buf = appendBool(buf, info.WillRelay)
	buf = appendBool(buf, info.WillValidateDial)
	for _, d := range info.DialInfoDetails {
		buf = append(buf, byte(d.DialInfo.Protocol()), byte(d.Class), byte(d.NetworkClass))
		buf = append(buf, []byte(d.DialInfo.String())...)
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*(7-i))))
	}
	return buf
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// Sign produces a SignedNodeInfo for info at the given timestamp, signed
// with secret under kind.
func Sign(kind types.CryptoKind, secret [32]byte, info NodeInfo, timestampUs int64) (SignedNodeInfo, error) {
	sys, ok := cryptosuite.Lookup(kind)
	if !ok {
		return SignedNodeInfo{}, fmt.Errorf("nodeinfo: unknown crypto kind %q", kind)
	}
	sig, err := sys.Sign(secret, signingBytes(info, timestampUs))
	if err != nil {
		return SignedNodeInfo{}, fmt.Errorf("nodeinfo: sign: %w", err)
	}
	return SignedNodeInfo{Info: info, TimestampUs: timestampUs, Signature: sig}, nil
}

// Verify checks sni's signature against the claimed signer's public key.
func Verify(kind types.CryptoKind, public types.NodeId, sni SignedNodeInfo) bool {
	sys, ok := cryptosuite.Lookup(kind)
	if !ok {
		return false
	}
	return sys.Verify(public, signingBytes(sni.Info, sni.TimestampUs), sni.Signature)
}

// NewerThan reports whether sni's timestamp is strictly greater than
// prior's, the monotonicity invariant of spec §3 ("updates with a
// strictly older timestamp are rejected"). A nil prior always permits
// the update.
func (sni SignedNodeInfo) NewerThan(prior *SignedNodeInfo) bool {
	if prior == nil {
		return true
	}
	return sni.TimestampUs > prior.TimestampUs
}

// PeerInfo is the wire-serializable pairing of a node id with its signed
// node info for one routing domain, used by direct bootstrap replies
// (spec §6 "Direct bootstrap").
type PeerInfo struct {
	NodeID types.TypedKey    `json:"node_id"`
	Domain types.RoutingDomain `json:"-"`
	Signed SignedNodeInfo    `json:"signed_node_info"`
}

// Now is a small seam so callers can stamp a SignedNodeInfo with the
// current time without importing time directly; kept here because this
// package is the natural place callers reach for when publishing fresh
// node info.
func Now() int64 {
	return time.Now().UnixMicro()
}
