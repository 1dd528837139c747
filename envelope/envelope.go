// Package envelope implements the wire envelope codec of spec §4.4/§6: a
// fixed big-endian header followed by an AEAD-sealed body. Encryption and
// decryption are keyed by a crypto_kind-specific Diffie-Hellman shared
// secret between sender and recipient, via the cryptosuite registry.
package envelope

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/charlesrocket/veilid/cryptosuite"
	"github.com/charlesrocket/veilid/types"
)

const (
	magic = "VLID"

	offsetMagic      = 0
	offsetVersion    = 4
	offsetCryptoKind = 5
	offsetTimestamp  = 9
	offsetNonce      = 17
	nonceSize        = 24
	offsetSenderID   = 41
	offsetRecipient  = 73
	offsetBody       = 105

	// HeaderSize is the fixed header width in bytes (spec §6 wire table).
	HeaderSize = offsetBody

	// CurrentVersion is the only version this codec emits.
	CurrentVersion = 1
)

// ErrInvalid is returned by Decode for every failure mode the spec
// collapses into a single reason: truncation, bad magic/version, unknown
// crypto_kind, AEAD authentication failure, and timestamp-out-of-range.
// Per spec §4.4, callers must not distinguish these cases — debug-log and
// drop, never surface upward.
var ErrInvalid = errors.New("envelope: invalid")

// Header is the parsed fixed-size envelope header.
type Header struct {
	Version     uint8
	CryptoKind  types.CryptoKind
	TimestampUs int64
	Nonce       [nonceSize]byte
	SenderID    types.NodeId
	RecipientID types.NodeId
}

// SkewBounds configures the acceptable timestamp window for Decode. A
// zero value on either side disables that side of the check, per spec
// §4.4 ("two configurable bounds; zero means disabled").
type SkewBounds struct {
	Past   time.Duration
	Future time.Duration
}

// Encode builds a complete envelope: a fresh header (nonce, timestamp,
// sender/recipient ids) followed by the AEAD-sealed plaintext, keyed by
// DH(senderSecret, recipientID) under the given crypto kind.
func Encode(kind types.CryptoKind, senderSecret [32]byte, senderID, recipientID types.NodeId, plaintext []byte, now time.Time) ([]byte, error) {
	sys, ok := cryptosuite.Lookup(kind)
	if !ok {
		return nil, ErrInvalid
	}
	shared, err := sys.ComputeDH(senderSecret, recipientID)
	if err != nil {
		return nil, ErrInvalid
	}
	aead, err := sys.AEAD(shared)
	if err != nil {
		return nil, ErrInvalid
	}

	buf := make([]byte, HeaderSize)
	copy(buf[offsetMagic:], magic)
	buf[offsetVersion] = CurrentVersion
	copy(buf[offsetCryptoKind:], kind[:])
	binary.BigEndian.PutUint64(buf[offsetTimestamp:], uint64(now.UnixMicro()))

	nonce := buf[offsetNonce : offsetNonce+nonceSize]
	if err := fillNonce(nonce, aead.NonceSize()); err != nil {
		return nil, err
	}
	copy(buf[offsetSenderID:], senderID[:])
	copy(buf[offsetRecipient:], recipientID[:])

	// The additional data binds the header to the ciphertext so a
	// truncated or substituted header cannot be paired with a valid
	// body (spec: "mutating any header byte ... makes decrypt fail").
	sealed := aead.Seal(nil, nonce[:aead.NonceSize()], plaintext, buf[:offsetBody])
	return append(buf, sealed...), nil
}

// PeekHeader parses and validates the fixed header of data without
// checking the recipient id or touching the body, so a caller can
// decide whether an inbound envelope is addressed to this node or must
// be relayed before paying the cost of decryption (spec §4.6.2 step 9:
// "If the recipient id is not any of ours → relay"). Every parse
// failure collapses to ErrInvalid, matching Decode's silent-drop tier.
func PeekHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		// Spec §4.4: envelopes smaller than header_size are silently
		// dropped as potential hole-punch keepalives.
		return Header{}, ErrInvalid
	}
	if string(data[offsetMagic:offsetVersion]) != magic {
		return Header{}, ErrInvalid
	}
	if data[offsetVersion] != CurrentVersion {
		return Header{}, ErrInvalid
	}

	var hdr Header
	hdr.Version = data[offsetVersion]
	copy(hdr.CryptoKind[:], data[offsetCryptoKind:offsetTimestamp])
	hdr.TimestampUs = int64(binary.BigEndian.Uint64(data[offsetTimestamp:offsetNonce]))
	copy(hdr.Nonce[:], data[offsetNonce:offsetSenderID])
	copy(hdr.SenderID[:], data[offsetSenderID:offsetRecipient])
	copy(hdr.RecipientID[:], data[offsetRecipient:offsetBody])
	return hdr, nil
}

// Decode validates the minimum-size invariant, parses the header,
// verifies the timestamp skew, derives the shared secret from
// recipientSecret and the header's sender id, and authenticates and
// decrypts the body. Every failure collapses to ErrInvalid.
func Decode(data []byte, recipientSecret [32]byte, recipientID types.NodeId, bounds SkewBounds, now time.Time) (Header, []byte, error) {
	hdr, err := PeekHeader(data)
	if err != nil {
		return Header{}, nil, err
	}

	if hdr.RecipientID != recipientID {
		return Header{}, nil, ErrInvalid
	}
	if !withinSkew(hdr.TimestampUs, bounds, now) {
		return Header{}, nil, ErrInvalid
	}

	sys, ok := cryptosuite.Lookup(hdr.CryptoKind)
	if !ok {
		return Header{}, nil, ErrInvalid
	}
	shared, err := sys.ComputeDH(recipientSecret, hdr.SenderID)
	if err != nil {
		return Header{}, nil, ErrInvalid
	}
	aead, err := sys.AEAD(shared)
	if err != nil {
		return Header{}, nil, ErrInvalid
	}

	nonce := hdr.Nonce[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, data[offsetBody:], data[:offsetBody])
	if err != nil {
		return Header{}, nil, ErrInvalid
	}
	return hdr, plaintext, nil
}

func withinSkew(timestampUs int64, bounds SkewBounds, now time.Time) bool {
	ts := time.UnixMicro(timestampUs)
	if bounds.Past > 0 && now.Sub(ts) > bounds.Past {
		return false
	}
	if bounds.Future > 0 && ts.Sub(now) > bounds.Future {
		return false
	}
	return true
}
