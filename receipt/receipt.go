// Package receipt implements the Receipt Manager of spec §4.7: signed,
// short-lived tokens that correlate asynchronous return paths (dial-info
// validation, hole-punch, reverse-connect) back to the waiter that
// issued them.
package receipt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/charlesrocket/veilid/cryptosuite"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/types"
)

// NonceSize matches the envelope nonce width; receipts reuse the same
// width for their correlation id (spec §3 "Receipt ... nonce").
const NonceSize = 24

// ReceiptID is the unique correlation token embedded in a Receipt and
// used to demultiplex returns.
type ReceiptID [NonceSize]byte

// Receipt is the signed short-lived token of spec §3: "envelope
// version, crypto_kind, nonce, issuer_node_id, and opaque extra bytes,
// signed by the issuer."
type Receipt struct {
	EnvelopeVersion uint8
	CryptoKind      types.CryptoKind
	Nonce           ReceiptID
	IssuerNodeID    types.TypedKey
	Extra           []byte
	Signature       []byte
}

// ReturnKind classifies how a receipt's return arrived (spec §4.7
// "return_kind").
type ReturnKind int

const (
	ReturnOutOfBand ReturnKind = iota
	ReturnInBand
	ReturnSafety
	ReturnPrivate
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnInBand:
		return "InBand"
	case ReturnSafety:
		return "Safety"
	case ReturnPrivate:
		return "Private"
	default:
		return "OutOfBand"
	}
}

// Return is one delivered receipt return.
type Return struct {
	Kind   ReturnKind
	Source *routingtable.NodeRef // set only for ReturnInBand
	Route  []byte                // set only for ReturnPrivate
}

// Outcome is what a waiter's callback/promise ultimately resolves to.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeExpired
	OutcomeCancelled
)

var (
	// ErrInvalidMessage names the rejection of a return that arrives via
	// a kind the calling flow forbids. Nothing in this package returns
	// it: Manager.HandleReceipt delivers every verified return to its
	// callback whatever its ReturnKind, and the callback decides.
	ErrInvalidMessage = errors.New("receipt: return kind not permitted for this flow")
)

// sign signs a freshly-built receipt under kind using secret.
func sign(kind types.CryptoKind, secret [32]byte, envelopeVersion uint8, issuer types.TypedKey, nonce ReceiptID, extra []byte) (Receipt, error) {
	sys, ok := cryptosuite.Lookup(kind)
	if !ok {
		return Receipt{}, fmt.Errorf("receipt: unknown crypto kind %q", kind)
	}
	r := Receipt{
		EnvelopeVersion: envelopeVersion,
		CryptoKind:      kind,
		Nonce:           nonce,
		IssuerNodeID:    issuer,
		Extra:           append([]byte(nil), extra...),
	}
	sig, err := sys.Sign(secret, signingBytes(r))
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: sign: %w", err)
	}
	r.Signature = sig
	return r, nil
}

// Verify checks r's signature against its claimed issuer.
func Verify(r Receipt) bool {
	sys, ok := cryptosuite.Lookup(r.CryptoKind)
	if !ok {
		return false
	}
	return sys.Verify(r.IssuerNodeID.Key, signingBytes(r), r.Signature)
}

func signingBytes(r Receipt) []byte {
	buf := make([]byte, 0, 32+len(r.Extra))
	buf = append(buf, r.EnvelopeVersion)
	buf = append(buf, r.CryptoKind[:]...)
	buf = append(buf, r.Nonce[:]...)
	buf = append(buf, r.IssuerNodeID.Kind[:]...)
	buf = append(buf, r.IssuerNodeID.Key[:]...)
	buf = append(buf, r.Extra...)
	return buf
}

func newNonce() (ReceiptID, error) {
	var n ReceiptID
	if _, err := rand.Read(n[:]); err != nil {
		return n, err
	}
	return n, nil
}

// waiter is one in-flight record(), tracking how many more returns it
// expects and a timer that expires it.
type waiter struct {
	mu        sync.Mutex
	remaining int
	callback  func(Return, Outcome)
	timer     *time.Timer
	done      bool
}

// Manager is the Receipt Manager. It owns every outstanding waiter,
// indexed by receipt id in a bounded LRU so a flood of bogus receipt
// returns cannot grow memory unboundedly (spec §5 "Backpressure").
type Manager struct {
	selfID     types.TypedKey
	cryptoKind types.CryptoKind
	secret     [32]byte
	envVersion uint8

	mu       sync.Mutex
	waiters  *lru.Cache
	shutdown bool
}

// New builds a Manager that signs receipts as selfID under cryptoKind,
// indexing up to maxOutstanding concurrent waiters.
func New(selfID types.TypedKey, cryptoKind types.CryptoKind, secret [32]byte, envVersion uint8, maxOutstanding int) (*Manager, error) {
	if maxOutstanding <= 0 {
		maxOutstanding = 1024
	}
	cache, err := lru.New(maxOutstanding)
	if err != nil {
		return nil, fmt.Errorf("receipt: building waiter cache: %w", err)
	}
	return &Manager{
		selfID:     selfID,
		cryptoKind: cryptoKind,
		secret:     secret,
		envVersion: envVersion,
		waiters:    cache,
	}, nil
}

// Record issues a multi-shot receipt: callback fires up to
// expectedReturns times as returns arrive, then the receipt expires
// (spec §4.7 "record").
func (m *Manager) Record(expiry time.Duration, expectedReturns int, extra []byte, callback func(Return, Outcome)) (Receipt, error) {
	return m.record(expiry, expectedReturns, extra, callback)
}

// RecordSingleShot issues a single-shot receipt resolving exactly once,
// to either a delivered Return, Expired, or Cancelled (spec §4.7
// "record_single_shot").
func (m *Manager) RecordSingleShot(expiry time.Duration, extra []byte, callback func(Return, Outcome)) (Receipt, error) {
	return m.record(expiry, 1, extra, callback)
}

func (m *Manager) record(expiry time.Duration, expectedReturns int, extra []byte, callback func(Return, Outcome)) (Receipt, error) {
	nonce, err := newNonce()
	if err != nil {
		return Receipt{}, err
	}
	r, err := sign(m.cryptoKind, m.secret, m.envVersion, m.selfID, nonce, extra)
	if err != nil {
		return Receipt{}, err
	}

	w := &waiter{remaining: expectedReturns, callback: callback}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		callback(Return{}, OutcomeCancelled)
		return r, nil
	}
	w.timer = time.AfterFunc(expiry, func() { m.expire(nonce) })
	m.waiters.Add(nonce, w)
	m.mu.Unlock()

	return r, nil
}

// HandleReceipt demultiplexes an incoming return by its receipt's nonce,
// delivering it to the matching waiter and silently dropping unknown ids
// (spec §4.7 "handle_receipt").
func (m *Manager) HandleReceipt(r Receipt, ret Return) {
	if !Verify(r) {
		return
	}
	m.mu.Lock()
	v, ok := m.waiters.Get(r.Nonce)
	m.mu.Unlock()
	if !ok {
		return
	}
	w := v.(*waiter)

	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.remaining--
	exhausted := w.remaining <= 0
	if exhausted {
		w.done = true
	}
	cb := w.callback
	w.mu.Unlock()

	cb(ret, OutcomeDelivered)

	if exhausted {
		m.mu.Lock()
		if v2, ok := m.waiters.Peek(r.Nonce); ok && v2.(*waiter) == w {
			m.waiters.Remove(r.Nonce)
		}
		m.mu.Unlock()
		w.timer.Stop()
	}
}

func (m *Manager) expire(id ReceiptID) {
	m.mu.Lock()
	v, ok := m.waiters.Get(id)
	if ok {
		m.waiters.Remove(id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	w := v.(*waiter)
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.done = true
	cb := w.callback
	w.mu.Unlock()
	cb(Return{}, OutcomeExpired)
}

// Shutdown resolves every outstanding waiter with Cancelled and stops
// accepting new records (spec §4.7 "manager shutdown resolves
// outstanding waiters with Cancelled").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	keys := m.waiters.Keys()
	m.mu.Unlock()

	for _, k := range keys {
		m.mu.Lock()
		v, ok := m.waiters.Get(k)
		if ok {
			m.waiters.Remove(k)
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		w := v.(*waiter)
		w.mu.Lock()
		if w.done {
			w.mu.Unlock()
			continue
		}
		w.done = true
		cb := w.callback
		w.mu.Unlock()
		w.timer.Stop()
		cb(Return{}, OutcomeCancelled)
	}
}

// Outstanding returns the number of waiters still tracked, for metrics
// and tests.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiters.Len()
}
