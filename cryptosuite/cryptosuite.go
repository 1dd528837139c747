// Package cryptosuite implements the crypto_kind registry of spec §3/§4.4:
// pluggable suites that each provide key-agreement, AEAD, and signing, so
// multiple crypto kinds can coexist in the same overlay. Two suites are
// registered out of the box: VLD0 (ed25519/x25519/chacha20poly1305/blake2b,
// all via the standard library plus golang.org/x/crypto) and SECP
// (decred's secp256k1/v4), mirroring the dual-kind allowance in the data
// model and grounded on mirairo-DREP-Chain's secp256k1 import.
package cryptosuite

import (
	"crypto/cipher"
	"fmt"

	"github.com/charlesrocket/veilid/types"
)

// KeyPair is a generated (public, secret) pair for a crypto kind.
type KeyPair struct {
	Public types.TypedKey
	Secret [32]byte
}

// System is the per-crypto_kind operation set. Implementations must be
// safe for concurrent use; they hold no mutable state beyond what's
// needed to construct ciphers.
type System interface {
	// Kind returns the 4-byte crypto_kind tag this system implements.
	Kind() types.CryptoKind

	// GenerateKeyPair creates a fresh signing/DH key pair.
	GenerateKeyPair() (KeyPair, error)

	// ComputeDH derives the shared secret between a local secret key and
	// a remote public key, used to key the envelope AEAD (spec §4.4:
	// "AEAD keyed by DH(sender_id, recipient_id_secret)").
	ComputeDH(localSecret [32]byte, remotePublic types.NodeId) ([32]byte, error)

	// AEAD constructs a cipher.AEAD keyed from a DH shared secret.
	AEAD(sharedSecret [32]byte) (cipher.AEAD, error)

	// NonceSize reports the nonce length this kind's AEAD expects.
	NonceSize() int

	// Sign produces a detached signature over msg using a secret key,
	// for receipt issuance (spec: "Receipt ... signed by the issuer").
	Sign(secret [32]byte, msg []byte) ([]byte, error)

	// Verify checks a detached signature against a public key.
	Verify(public types.NodeId, msg, sig []byte) bool
}

var registry = map[types.CryptoKind]System{}

// Register adds a System to the global registry, keyed by its Kind(). Both
// built-in suites call this from their package init.
func Register(s System) {
	registry[s.Kind()] = s
}

// Lookup returns the registered System for kind, or false if no suite
// implements it. Decryption treats an unknown crypto_kind as part of the
// single collapsed EnvelopeInvalid reason (spec §4.4), never a distinct
// error surfaced to the caller.
func Lookup(kind types.CryptoKind) (System, bool) {
	s, ok := registry[kind]
	return s, ok
}

// MustLookup panics if kind is unregistered; used only at startup wiring
// where an unsupported configured kind is a fatal configuration error
// (spec §7 tier 3), not a runtime condition.
func MustLookup(kind types.CryptoKind) System {
	s, ok := Lookup(kind)
	if !ok {
		panic(fmt.Sprintf("cryptosuite: crypto kind %q not registered", kind))
	}
	return s
}

// KindVLD0 and KindSECP are the two crypto_kind tags registered by this
// package's own init funcs (see vld0.go, secp.go).
var (
	KindVLD0 = types.CryptoKind{'V', 'L', 'D', '0'}
	KindSECP = types.CryptoKind{'S', 'E', 'C', 'P'}
)
