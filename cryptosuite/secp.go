package cryptosuite

import (
	"crypto/cipher"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/charlesrocket/veilid/types"
)

// secpSystem is the second coexisting crypto kind: secp256k1 keys for
// both ECDH and ECDSA signing, with the same ChaCha20-Poly1305/BLAKE2b
// AEAD construction as VLD0. Grounded on mirairo-DREP-Chain's use of a
// secp256k1 package directly inside its p2p server.
type secpSystem struct{}

func init() {
	Register(secpSystem{})
}

func (secpSystem) Kind() types.CryptoKind { return KindSECP }

func (secpSystem) GenerateKeyPair() (KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("cryptosuite(SECP): generate key: %w", err)
	}
	pub := priv.PubKey().SerializeCompressed()
	if pub[0] == 0x03 {
		// Negating the scalar negates the point, giving it even y.
		priv.Key.Negate()
		pub = priv.PubKey().SerializeCompressed()
	}
	var kp KeyPair
	kp.Public.Kind = KindSECP
	// Compressed secp256k1 public keys are 33 bytes; NodeId holds 32, so
	// the leading parity-sign byte is folded out of band by always
	// regenerating it as 0x02 (even-y) on parse, matching the parity bit
	// convention this suite standardizes on for node ids.
	copy(kp.Public.Key[:], pub[1:])
	copy(kp.Secret[:], priv.Serialize())
	return kp, nil
}

func (secpSystem) ComputeDH(localSecret [32]byte, remotePublic types.NodeId) ([32]byte, error) {
	var out [32]byte
	priv := secp256k1.PrivKeyFromBytes(localSecret[:])
	remotePub, err := parseNodeIdAsPubKey(remotePublic)
	if err != nil {
		return out, err
	}

	var remoteJacobian secp256k1.JacobianPoint
	remotePub.AsJacobian(&remoteJacobian)

	var scalar secp256k1.ModNScalar
	scalar.Set(&priv.Key)

	var shared secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&scalar, &remoteJacobian, &shared)
	shared.ToAffine()

	xBytes := shared.X.Bytes()
	copy(out[:], xBytes[:])
	return out, nil
}

func (secpSystem) AEAD(sharedSecret [32]byte) (cipher.AEAD, error) {
	key := blake2b.Sum256(sharedSecret[:])
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptosuite(SECP): aead init: %w", err)
	}
	return aead, nil
}

func (secpSystem) NonceSize() int {
	return chacha20poly1305.NonceSize
}

func (secpSystem) Sign(secret [32]byte, msg []byte) ([]byte, error) {
	priv := secp256k1.PrivKeyFromBytes(secret[:])
	digest := blake2b.Sum256(msg)
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize(), nil
}

func (secpSystem) Verify(public types.NodeId, msg, sig []byte) bool {
	pub, err := parseNodeIdAsPubKey(public)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseSignature(sig)
	if err != nil {
		return false
	}
	digest := blake2b.Sum256(msg)
	return parsed.Verify(digest[:], pub)
}

// parseNodeIdAsPubKey reconstructs a compressed secp256k1 public key from
// a 32-byte NodeId, assuming the even-y parity convention this suite's
// GenerateKeyPair standardizes on.
func parseNodeIdAsPubKey(id types.NodeId) (*secp256k1.PublicKey, error) {
	compressed := make([]byte, 33)
	compressed[0] = 0x02
	copy(compressed[1:], id[:])
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("cryptosuite(SECP): parse public key: %w", err)
	}
	return pub, nil
}
