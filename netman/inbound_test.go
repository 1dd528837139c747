package netman

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesrocket/veilid/receipt"
	"github.com/charlesrocket/veilid/types"
)

func testDescriptor() types.ConnectionDescriptor {
	return types.NewConnectionDescriptor(types.PeerAddress{
		Socket:   types.NewSocketAddress(nil, 0),
		Protocol: types.ProtocolUDP,
	})
}

func TestOnRecvDropsZeroLengthKeepaliveWithoutPanic(t *testing.T) {
	m, _ := testManager(t)
	assert.NotPanics(t, func() {
		m.OnRecv(context.Background(), nil, testDescriptor())
	})
}

func TestOnRecvDropsShortFrameWithoutPanic(t *testing.T) {
	m, _ := testManager(t)
	assert.NotPanics(t, func() {
		m.OnRecv(context.Background(), []byte{1, 2}, testDescriptor())
	})
}

func TestOnRecvDropsMalformedEnvelopeWithoutPanic(t *testing.T) {
	m, _ := testManager(t)
	junk := make([]byte, 200)
	assert.NotPanics(t, func() {
		m.OnRecv(context.Background(), junk, testDescriptor())
	})
}

func TestOnRecvDeliversWellFormedOutOfBandReceipt(t *testing.T) {
	m, _ := testManager(t)

	delivered := make(chan receipt.Outcome, 1)
	r, err := m.receipts.RecordSingleShot(time.Second, nil, func(ret receipt.Return, outcome receipt.Outcome) {
		delivered <- outcome
	})
	require.NoError(t, err)

	frame := append(append([]byte{}, receiptMagic[:]...), receipt.Encode(r)...)
	m.OnRecv(context.Background(), frame, testDescriptor())

	select {
	case outcome := <-delivered:
		assert.Equal(t, receipt.OutcomeDelivered, outcome)
	default:
		t.Fatal("receipt was not delivered to its waiter")
	}
}

func TestHandleOutOfBandReceiptDropsUnverifiableSignature(t *testing.T) {
	m, _ := testManager(t)

	var forged ed25519.PublicKey
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	forged = priv.Public().(ed25519.PublicKey)

	r := receipt.Receipt{
		EnvelopeVersion: 1,
		CryptoKind:      types.CryptoKind{'V', 'L', 'D', '0'},
		Signature:       make([]byte, ed25519.SignatureSize),
	}
	copy(r.IssuerNodeID.Key[:], forged)
	r.IssuerNodeID.Kind = types.CryptoKind{'V', 'L', 'D', '0'}

	assert.NotPanics(t, func() {
		m.handleOutOfBandReceipt(receipt.Encode(r))
	})
}

func TestHandleOutOfBandReceiptDropsMalformedBlob(t *testing.T) {
	m, _ := testManager(t)
	assert.NotPanics(t, func() {
		m.handleOutOfBandReceipt([]byte{1, 2, 3})
	})
}
