package receipt

import (
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesrocket/veilid/types"
)

func testIssuer() (types.TypedKey, [32]byte) {
	var secret [32]byte
	secret[0] = 7
	kind := types.CryptoKind{'V', 'L', 'D', '0'}
	id := types.TypedKey{Kind: kind}
	copy(id.Key[:], ed25519.NewKeyFromSeed(secret[:]).Public().(ed25519.PublicKey))
	return id, secret
}

func TestRecordSingleShotDeliversOnMatchingReturn(t *testing.T) {
	id, secret := testIssuer()
	m, err := New(id, id.Kind, secret, 1, 16)
	require.NoError(t, err)

	var got Outcome
	var mu sync.Mutex
	done := make(chan struct{})
	r, err := m.RecordSingleShot(time.Second, []byte("extra"), func(ret Return, outcome Outcome) {
		mu.Lock()
		got = outcome
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	m.HandleReceipt(r, Return{Kind: ReturnInBand})
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, OutcomeDelivered, got)
	assert.Equal(t, 0, m.Outstanding())
}

func TestRecordMultiShotFiresUpToExpectedReturns(t *testing.T) {
	id, secret := testIssuer()
	m, err := New(id, id.Kind, secret, 1, 16)
	require.NoError(t, err)

	var count int
	var mu sync.Mutex
	r, err := m.Record(time.Second, 2, nil, func(ret Return, outcome Outcome) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	m.HandleReceipt(r, Return{Kind: ReturnOutOfBand})
	assert.Equal(t, 1, m.Outstanding())
	m.HandleReceipt(r, Return{Kind: ReturnOutOfBand})
	assert.Equal(t, 0, m.Outstanding())
	// A third return after exhaustion must be silently dropped, not
	// delivered to the callback again.
	m.HandleReceipt(r, Return{Kind: ReturnOutOfBand})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestHandleReceiptUnknownIDIsSilentlyDropped(t *testing.T) {
	id, secret := testIssuer()
	m, err := New(id, id.Kind, secret, 1, 16)
	require.NoError(t, err)

	other, otherSecret := testIssuer()
	other.Key[0] = 0xAA
	bogus, err := sign(other.Kind, otherSecret, 1, other, ReceiptID{9, 9, 9}, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() { m.HandleReceipt(bogus, Return{Kind: ReturnOutOfBand}) })
	assert.Equal(t, 0, m.Outstanding())
}

func TestHandleReceiptRejectsBadSignature(t *testing.T) {
	id, secret := testIssuer()
	m, err := New(id, id.Kind, secret, 1, 16)
	require.NoError(t, err)

	fired := false
	r, err := m.RecordSingleShot(time.Second, nil, func(Return, Outcome) { fired = true })
	require.NoError(t, err)

	r.Signature = append([]byte(nil), r.Signature...)
	r.Signature[0] ^= 0xFF
	m.HandleReceipt(r, Return{Kind: ReturnOutOfBand})

	assert.False(t, fired)
	assert.Equal(t, 1, m.Outstanding())
}

func TestRecordExpiresAfterTimeout(t *testing.T) {
	id, secret := testIssuer()
	m, err := New(id, id.Kind, secret, 1, 16)
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	_, err = m.RecordSingleShot(20*time.Millisecond, nil, func(ret Return, outcome Outcome) {
		done <- outcome
	})
	require.NoError(t, err)

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeExpired, outcome)
	case <-time.After(time.Second):
		t.Fatal("receipt did not expire")
	}
	assert.Equal(t, 0, m.Outstanding())
}

func TestShutdownCancelsOutstandingWaiters(t *testing.T) {
	id, secret := testIssuer()
	m, err := New(id, id.Kind, secret, 1, 16)
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	_, err = m.RecordSingleShot(time.Minute, nil, func(ret Return, outcome Outcome) {
		done <- outcome
	})
	require.NoError(t, err)

	m.Shutdown()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeCancelled, outcome)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not cancel waiter")
	}
}

func TestRecordAfterShutdownCancelsImmediately(t *testing.T) {
	id, secret := testIssuer()
	m, err := New(id, id.Kind, secret, 1, 16)
	require.NoError(t, err)
	m.Shutdown()

	done := make(chan Outcome, 1)
	_, err = m.RecordSingleShot(time.Minute, nil, func(ret Return, outcome Outcome) {
		done <- outcome
	})
	require.NoError(t, err)

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeCancelled, outcome)
	default:
		t.Fatal("expected immediate cancellation callback")
	}
}
