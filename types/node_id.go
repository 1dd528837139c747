// Package types implements the core data model of spec §3: node
// identifiers, typed keys, addresses, dial info, connection descriptors,
// and routing domains. NodeId, CryptoKind, TypedKey and
// ConnectionDescriptorKey are comparable and serve as map keys in the
// routing table and connection table; the address-bearing types hold a
// net.IP and are compared with their Equal methods instead.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// NodeIDSize is the width of a NodeId in bytes (256 bits).
const NodeIDSize = 32

// NodeId is the 256-bit key identifying a node (a hash or public key,
// depending on crypto kind). Distance between two ids is bitwise XOR;
// closeness is numeric comparison of that distance.
type NodeId [NodeIDSize]byte

// String renders the id as lowercase hex.
func (id NodeId) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero value.
func (id NodeId) IsZero() bool {
	return id == NodeId{}
}

// Xor returns the bitwise XOR distance between id and other.
func (id NodeId) Xor(other NodeId) NodeId {
	var out NodeId
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Less reports whether id represents a smaller distance than other, i.e.
// id < other when compared as a big-endian 256-bit integer. Used to order
// nodes by closeness once distances have been computed via Xor.
func (id NodeId) Less(other NodeId) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// FirstDifferingBit returns the index (0 = most significant bit of byte 0)
// of the highest-order bit at which id differs from other, used to compute
// bucket assignment (spec §4.5, §8 "Bucket assignment"). If the ids are
// identical it returns -1.
func (id NodeId) FirstDifferingBit(other NodeId) int {
	d := id.Xor(other)
	for byteIdx, b := range d {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return -1
}

// CryptoKind is a 4-byte tag identifying a crypto suite (fourcc-style,
// e.g. "VLD0", "SECP"), matching crypto/types.rs's CryptoKind = FourCC.
type CryptoKind [4]byte

func (k CryptoKind) String() string {
	return string(k[:])
}

// ParseCryptoKind converts a 4-character string into a CryptoKind.
func ParseCryptoKind(s string) (CryptoKind, error) {
	var k CryptoKind
	if len(s) != 4 {
		return k, fmt.Errorf("types: crypto kind must be exactly 4 characters, got %q", s)
	}
	copy(k[:], s)
	return k, nil
}

// TypedKey pairs a NodeId (used as a public key) with the crypto_kind that
// produced it, so multiple crypto suites may coexist (spec §3).
type TypedKey struct {
	Kind CryptoKind
	Key  NodeId
}

func (tk TypedKey) String() string {
	return fmt.Sprintf("%s:%s", tk.Kind, tk.Key)
}

// IsZero reports whether tk is the zero value.
func (tk TypedKey) IsZero() bool {
	return tk.Kind == CryptoKind{} && tk.Key.IsZero()
}

// MarshalJSON renders the id as "kind:hexkey", matching TypedKey's
// Display/Serialize form.
func (tk TypedKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(tk.String())
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (tk *TypedKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if len(s) < 5 || s[4] != ':' {
		return fmt.Errorf("types: malformed typed key %q", s)
	}
	kind, err := ParseCryptoKind(s[:4])
	if err != nil {
		return err
	}
	keyBytes, err := hex.DecodeString(s[5:])
	if err != nil {
		return fmt.Errorf("types: malformed typed key %q: %w", s, err)
	}
	if len(keyBytes) != NodeIDSize {
		return fmt.Errorf("types: typed key %q has wrong key length", s)
	}
	var key NodeId
	copy(key[:], keyBytes)
	tk.Kind = kind
	tk.Key = key
	return nil
}
