package cryptosuite

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/charlesrocket/veilid/types"
)

// vld0System is the primary crypto kind: ed25519 signing keys, X25519
// Diffie-Hellman, ChaCha20-Poly1305 AEAD, and BLAKE2b key derivation. The
// node id is the ed25519 public key; the same 32 bytes are reinterpreted
// as a Montgomery-curve point for X25519, following the birational map
// used throughout the ecosystem for "sign with the identity key, DH with
// the same key" designs.
type vld0System struct{}

func init() {
	Register(vld0System{})
}

func (vld0System) Kind() types.CryptoKind { return KindVLD0 }

func (vld0System) GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("cryptosuite(VLD0): generate key: %w", err)
	}
	var kp KeyPair
	kp.Public.Kind = KindVLD0
	copy(kp.Public.Key[:], pub)
	copy(kp.Secret[:], priv.Seed())
	return kp, nil
}

func (vld0System) ComputeDH(localSecret [32]byte, remotePublic types.NodeId) ([32]byte, error) {
	var out [32]byte
	montLocal, err := ed25519SeedToX25519(localSecret)
	if err != nil {
		return out, err
	}
	shared, err := curve25519.X25519(montLocal[:], remotePublic[:])
	if err != nil {
		return out, fmt.Errorf("cryptosuite(VLD0): x25519: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}

func (vld0System) AEAD(sharedSecret [32]byte) (cipher.AEAD, error) {
	key := blake2b.Sum256(sharedSecret[:])
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptosuite(VLD0): aead init: %w", err)
	}
	return aead, nil
}

func (vld0System) NonceSize() int {
	return chacha20poly1305.NonceSize
}

func (vld0System) Sign(secret [32]byte, msg []byte) ([]byte, error) {
	priv := ed25519.NewKeyFromSeed(secret[:])
	return ed25519.Sign(priv, msg), nil
}

func (vld0System) Verify(public types.NodeId, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(public[:]), msg, sig)
}

// ed25519SeedToX25519 derives the Montgomery-curve scalar used for X25519
// from an ed25519 seed, following the standard Ed25519->X25519 clamping
// rule (hash the seed, clamp the low-order bits).
func ed25519SeedToX25519(seed [32]byte) ([32]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return [32]byte{}, err
	}
	h.Write(seed[:])
	digest := h.Sum(nil)
	var scalar [32]byte
	copy(scalar[:], digest[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar, nil
}
