package receipt

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesrocket/veilid/types"
)

func TestWireEncodeDecodeRoundTrip(t *testing.T) {
	issuer := types.TypedKey{Kind: types.CryptoKind{'V', 'L', 'D', '0'}}
	issuer.Key[0] = 0xAB

	r := Receipt{
		EnvelopeVersion: 1,
		CryptoKind:      types.CryptoKind{'V', 'L', 'D', '0'},
		IssuerNodeID:    issuer,
		Extra:           []byte("hello"),
		Signature:       []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	r.Nonce[0] = 0x42

	blob := Encode(r)
	got, err := Decode(blob)
	require.NoError(t, err)

	assert.Equal(t, r.EnvelopeVersion, got.EnvelopeVersion)
	assert.Equal(t, r.CryptoKind, got.CryptoKind)
	assert.Equal(t, r.Nonce, got.Nonce)
	assert.Equal(t, r.IssuerNodeID, got.IssuerNodeID)
	assert.Equal(t, r.Extra, got.Extra)
	assert.Equal(t, r.Signature, got.Signature)
}

func TestWireDecodeRejectsTruncatedBlob(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWireDecodeRejectsTruncatedExtra(t *testing.T) {
	r := Receipt{CryptoKind: types.CryptoKind{'V', 'L', 'D', '0'}, Extra: []byte("abcdef")}
	blob := Encode(r)
	_, err := Decode(blob[:len(blob)-3])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWireEncodeDecodeRoundTripSigned(t *testing.T) {
	kind, err := types.ParseCryptoKind("VLD0")
	require.NoError(t, err)

	var seed [32]byte
	seed[0] = 7
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)

	var issuerID types.NodeId
	copy(issuerID[:], pub)
	issuer := types.TypedKey{Kind: kind, Key: issuerID}

	nonce, err := newNonce()
	require.NoError(t, err)

	r, err := sign(kind, seed, 1, issuer, nonce, []byte("extra"))
	require.NoError(t, err)

	blob := Encode(r)
	got, err := Decode(blob)
	require.NoError(t, err)
	assert.True(t, Verify(got))
}
