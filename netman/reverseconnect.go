package netman

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesrocket/veilid/receipt"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/types"
)

// signalTimeout bounds how long reverse-connect/hole-punch wait for a
// receipt return before giving up (spec §4.6.3).
const signalTimeout = 10 * time.Second

// signalKind distinguishes the two single-shot signal flows of spec
// §4.6.3, embedded in the opaque signal body handed to the relay's RPC
// dispatcher so it knows which action to take against the target.
type signalKind uint8

const (
	signalReverseConnect signalKind = iota
	signalHolePunch
)

// buildSignalBody is the minimal wire shape for a Signal request routed
// through a relay: which action, which target, and the receipt the
// target must return to satisfy it. The real encoding of this op is the
// RPC codec's concern (out of scope here); this is a placeholder shape
// sufficient to exercise the relay/receipt wiring.
func buildSignalBody(kind signalKind, target types.TypedKey, r receipt.Receipt) []byte {
	body := make([]byte, 0, 1+len(target.Key)+len(r.Nonce))
	body = append(body, byte(kind))
	body = append(body, target.Key[:]...)
	body = append(body, r.Nonce[:]...)
	return body
}

// DeliverInBandReceipt is called by the RPC dispatcher when it decodes
// an inbound receipt-return operation, handing the parsed Receipt/Return
// pair to the Receipt Manager. Reverse-connect and hole-punch both block
// on this path completing their single-shot receipt.
func (m *Manager) DeliverInBandReceipt(r receipt.Receipt, ret receipt.Return) {
	m.receipts.HandleReceipt(r, ret)
}

// reverseConnect implements spec §4.6.3's connection-oriented flow: ask
// relay to signal target to dial this node back, then wait for an
// in-band-only receipt return before trusting the resulting connection.
// The returned descriptor is the connection target opened back to us,
// identity-checked against target's NodeRef.
func (m *Manager) reverseConnect(ctx context.Context, relay *routingtable.NodeRef, target *routingtable.NodeRef) (types.ConnectionDescriptor, error) {
	if relay == nil {
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: reverse-connect requires a relay")
	}

	ctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()

	result := make(chan types.ConnectionDescriptor, 1)
	errc := make(chan error, 1)

	r, err := m.receipts.RecordSingleShot(signalTimeout, nil, func(ret receipt.Return, outcome receipt.Outcome) {
		switch outcome {
		case receipt.OutcomeDelivered:
			if ret.Kind != receipt.ReturnInBand {
				errc <- fmt.Errorf("netman: reverse-connect return was not in-band")
				return
			}
			if ret.Source == nil || ret.Source.NodeID() != target.NodeID() {
				errc <- fmt.Errorf("netman: reverse-connect return identity mismatch")
				return
			}
			if desc, ok := m.existingConnection(target); ok {
				result <- desc
				return
			}
			errc <- fmt.Errorf("netman: reverse-connect return arrived with no tracked connection")
		case receipt.OutcomeExpired:
			errc <- fmt.Errorf("netman: reverse-connect receipt expired")
		case receipt.OutcomeCancelled:
			errc <- fmt.Errorf("netman: reverse-connect receipt cancelled")
		}
	})
	if err != nil {
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: issuing reverse-connect receipt: %w", err)
	}

	body := buildSignalBody(signalReverseConnect, target.NodeID(), r)
	if err := m.sendViaRelay(ctx, relay, relay.NodeID(), body); err != nil {
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: signaling relay for reverse-connect: %w", err)
	}

	select {
	case desc := <-result:
		return desc, nil
	case err := <-errc:
		return types.ConnectionDescriptor{}, err
	case <-ctx.Done():
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: reverse-connect timed out")
	}
}

// holePunch implements spec §4.6.3's UDP-only variant: send an empty
// datagram directly at target (to open this node's NAT mapping toward
// it) while simultaneously asking relay to Signal target to do the
// same, then wait for an in-band receipt return.
func (m *Manager) holePunch(ctx context.Context, relay *routingtable.NodeRef, target *routingtable.NodeRef) (types.ConnectionDescriptor, error) {
	if relay == nil {
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: hole-punch requires a relay")
	}

	ctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()

	detail, ok := target.BestDialInfo(types.RoutingDomainPublicInternet)
	if ok {
		if conn, err := m.connmgr.GetOrCreateConnection(ctx, m.dialer, nil, detail.DialInfo); err == nil {
			_ = conn.WriteMessage(ctx, nil)
		}
	}

	result := make(chan types.ConnectionDescriptor, 1)
	errc := make(chan error, 1)

	r, err := m.receipts.RecordSingleShot(signalTimeout, nil, func(ret receipt.Return, outcome receipt.Outcome) {
		switch outcome {
		case receipt.OutcomeDelivered:
			if ret.Kind != receipt.ReturnInBand {
				errc <- fmt.Errorf("netman: hole-punch return was not in-band")
				return
			}
			if ret.Source == nil || ret.Source.NodeID() != target.NodeID() {
				errc <- fmt.Errorf("netman: hole-punch return identity mismatch")
				return
			}
			if desc, ok := m.existingConnection(target); ok {
				result <- desc
				return
			}
			errc <- fmt.Errorf("netman: hole-punch return arrived with no tracked connection")
		case receipt.OutcomeExpired:
			errc <- fmt.Errorf("netman: hole-punch receipt expired")
		case receipt.OutcomeCancelled:
			errc <- fmt.Errorf("netman: hole-punch receipt cancelled")
		}
	})
	if err != nil {
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: issuing hole-punch receipt: %w", err)
	}

	body := buildSignalBody(signalHolePunch, target.NodeID(), r)
	if err := m.sendViaRelay(ctx, relay, relay.NodeID(), body); err != nil {
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: signaling relay for hole-punch: %w", err)
	}

	select {
	case desc := <-result:
		return desc, nil
	case err := <-errc:
		return types.ConnectionDescriptor{}, err
	case <-ctx.Done():
		return types.ConnectionDescriptor{}, fmt.Errorf("netman: hole-punch timed out")
	}
}
