package receipt

import (
	"encoding/binary"
	"errors"

	"github.com/charlesrocket/veilid/types"
)

// Wire layout for a serialized Receipt (spec §4.4 "Receipt prefix": the
// bytes following the 3-byte RCP marker are "the signed receipt blob"),
// mirroring envelope's fixed-header-then-variable-body discipline:
//
//	offset 0:  envelope_version   (1 byte)
//	offset 1:  crypto_kind        (4 bytes)
//	offset 5:  nonce              (NonceSize bytes)
//	offset 5+NonceSize: issuer kind (4 bytes)
//	+4:        issuer key         (types.NodeIDSize bytes)
//	+NodeIDSize: extra_len        (uint16, big-endian)
//	+2:        extra              (extra_len bytes)
//	+extra_len: signature_len     (uint16, big-endian)
//	+2:        signature          (signature_len bytes)
const (
	wireOffsetVersion    = 0
	wireOffsetCryptoKind = 1
	wireOffsetNonce      = 5
	wireOffsetIssuerKind = wireOffsetNonce + NonceSize
	wireOffsetIssuerKey  = wireOffsetIssuerKind + 4
	wireOffsetExtraLen   = wireOffsetIssuerKey + types.NodeIDSize
	wireFixedSize        = wireOffsetExtraLen + 2
)

// ErrMalformed is returned by Decode for any truncated or inconsistent
// receipt blob; callers treat it as a silent drop per spec §4.4's
// error-handling tier for unknown/malformed receipt bytes.
var ErrMalformed = errors.New("receipt: malformed wire blob")

// Encode serializes r into the wire blob that follows the RECEIPT_MAGIC
// marker on an out-of-band return path.
func Encode(r Receipt) []byte {
	buf := make([]byte, wireFixedSize, wireFixedSize+len(r.Extra)+2+len(r.Signature))
	buf[wireOffsetVersion] = r.EnvelopeVersion
	copy(buf[wireOffsetCryptoKind:], r.CryptoKind[:])
	copy(buf[wireOffsetNonce:], r.Nonce[:])
	copy(buf[wireOffsetIssuerKind:], r.IssuerNodeID.Kind[:])
	copy(buf[wireOffsetIssuerKey:], r.IssuerNodeID.Key[:])
	binary.BigEndian.PutUint16(buf[wireOffsetExtraLen:], uint16(len(r.Extra)))

	buf = append(buf, r.Extra...)
	sigLenOff := len(buf)
	buf = append(buf, 0, 0)
	binary.BigEndian.PutUint16(buf[sigLenOff:], uint16(len(r.Signature)))
	buf = append(buf, r.Signature...)
	return buf
}

// Decode parses a wire blob produced by Encode. It does not verify the
// receipt's signature; callers that need authenticity should call
// Verify on the result.
func Decode(data []byte) (Receipt, error) {
	if len(data) < wireFixedSize {
		return Receipt{}, ErrMalformed
	}

	var r Receipt
	r.EnvelopeVersion = data[wireOffsetVersion]
	copy(r.CryptoKind[:], data[wireOffsetCryptoKind:wireOffsetNonce])
	copy(r.Nonce[:], data[wireOffsetNonce:wireOffsetIssuerKind])
	copy(r.IssuerNodeID.Kind[:], data[wireOffsetIssuerKind:wireOffsetIssuerKey])
	copy(r.IssuerNodeID.Key[:], data[wireOffsetIssuerKey:wireOffsetExtraLen])

	extraLen := int(binary.BigEndian.Uint16(data[wireOffsetExtraLen:wireFixedSize]))
	rest := data[wireFixedSize:]
	if len(rest) < extraLen+2 {
		return Receipt{}, ErrMalformed
	}
	r.Extra = append([]byte(nil), rest[:extraLen]...)
	rest = rest[extraLen:]

	sigLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < sigLen {
		return Receipt{}, ErrMalformed
	}
	r.Signature = append([]byte(nil), rest[:sigLen]...)
	return r, nil
}
