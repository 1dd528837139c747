package netman

import (
	"bytes"
	"context"
	"time"

	"github.com/charlesrocket/veilid/envelope"
	"github.com/charlesrocket/veilid/receipt"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/rpcdispatch"
	"github.com/charlesrocket/veilid/types"
)

// bootMagic is the 4-byte bootstrap request marker (spec §4.6.4
// "4-byte BOOT request").
var bootMagic = [4]byte{'B', 'O', 'O', 'T'}

// receiptMagic is the 3-byte out-of-band receipt-return marker (spec
// §4.6.2 step 6: "RECEIPT_MAGIC (\"RCP\", 3 bytes)").
var receiptMagic = [3]byte{'R', 'C', 'P'}

// OnRecv implements spec §4.6.2's 11-step inbound pipeline for one
// datagram/frame arriving on desc. Every early-return below is a
// silent drop per the spec's tier-1 error discipline: truncated,
// malformed, or misrouted input is never surfaced as an error.
func (m *Manager) OnRecv(ctx context.Context, data []byte, desc types.ConnectionDescriptor) {
	// Step 1: account the inbound bytes against the source address's
	// per-address stats.
	m.perAddrStats.Record(desc.Remote.Socket, len(data), 0)

	// Step 2: zero-length datagram is a hole-punch keepalive success,
	// never an error.
	if len(data) == 0 {
		m.log.WithField("descriptor", desc).Debug("zero-length keepalive received")
		return
	}

	// Step 3: fewer than 4 bytes cannot carry any recognized marker.
	if len(data) < 4 {
		m.log.WithField("descriptor", desc).Debug("inbound frame too short, dropping")
		return
	}

	// Step 4: determine the routing domain (see routingDomainFor). Every
	// descriptor is assigned a domain, so this step drops nothing; a
	// descriptor with no local address bound counts as PublicInternet.
	domain, ok := m.routingDomainFor(desc)
	if !ok {
		m.log.WithField("descriptor", desc).Debug("no routing domain owns this descriptor, dropping")
		return
	}

	// Step 5: BOOT_MAGIC -> bootstrap request handling.
	if bytes.Equal(data[:4], bootMagic[:]) {
		m.handleBootRequest(ctx, desc)
		return
	}

	// Step 6: RECEIPT_MAGIC -> out-of-band receipt return path.
	if len(data) >= 3 && bytes.Equal(data[:3], receiptMagic[:]) {
		m.handleOutOfBandReceipt(data[3:])
		return
	}

	// Step 7: decode the envelope header only (no body decryption yet).
	hdr, err := envelope.PeekHeader(data)
	if err != nil {
		m.log.WithField("descriptor", desc).Debug("invalid envelope header, dropping")
		return
	}

	// Step 8: validate the timestamp window.
	if !m.withinTimestampWindow(hdr.TimestampUs) {
		m.log.WithField("descriptor", desc).Debug("envelope timestamp outside skew window, dropping")
		return
	}

	// Step 9: if the recipient id is not any of ours, relay (subject to
	// the sender whitelist), otherwise fall through to decrypt locally.
	if hdr.RecipientID != m.cfg.SelfID.Key {
		m.relayInbound(ctx, hdr, data, domain)
		return
	}

	// Step 10: decrypt with our recipient secret.
	_, plaintext, err := envelope.Decode(data, m.cfg.SelfSecret, m.cfg.SelfID.Key, m.cfg.SkewBounds, time.Now())
	if err != nil {
		m.log.WithField("descriptor", desc).Debug("envelope authentication failed, dropping")
		return
	}

	// Step 11: register/refresh the sender's bucket entry, then hand
	// the plaintext off to the RPC dispatcher with its NodeRef and
	// conn_desc.
	sender := types.TypedKey{Kind: hdr.CryptoKind, Key: hdr.SenderID}
	ref := m.routing.GetOrCreate(sender, routingtable.Filter{})
	now := m.clock.Now()
	ref.WithEntry(func(e *routingtable.Entry) { e.Touch(domain, desc.Remote.Protocol, now) })

	m.mu.Lock()
	dispatcher := m.dispatcher
	m.mu.Unlock()
	if err := rpcdispatch.Handoff(ctx, dispatcher, plaintext, ref, desc); err != nil {
		m.log.WithError(err).WithField("descriptor", desc).Debug("rpc handoff failed")
	}
	ref.Release()
}

// routingDomainFor classifies which routing domain owns desc: a
// descriptor bound to a local address that is not globally routable is
// LocalNetwork, and every other descriptor (global local address, or no
// local address) is PublicInternet. It always reports ok; no descriptor
// is rejected as belonging to an unknown domain.
func (m *Manager) routingDomainFor(desc types.ConnectionDescriptor) (types.RoutingDomain, bool) {
	if desc.Local != nil && desc.Local.Addr.IsGlobal() {
		return types.RoutingDomainPublicInternet, true
	}
	if desc.Local != nil {
		return types.RoutingDomainLocalNetwork, true
	}
	return types.RoutingDomainPublicInternet, true
}

func (m *Manager) withinTimestampWindow(timestampUs int64) bool {
	ts := time.UnixMicro(timestampUs)
	now := time.Now()
	bounds := m.cfg.SkewBounds
	if bounds.Past > 0 && now.Sub(ts) > bounds.Past {
		return false
	}
	if bounds.Future > 0 && ts.Sub(now) > bounds.Future {
		return false
	}
	return true
}

// relayInbound forwards an envelope addressed to someone else verbatim,
// gated by the sender whitelist: an unknown sender attempting to use
// this node as a relay is dropped rather than forwarded (spec §9
// "Client whitelist for relaying").
func (m *Manager) relayInbound(ctx context.Context, hdr envelope.Header, data []byte, domain types.RoutingDomain) {
	sender := types.TypedKey{Kind: hdr.CryptoKind, Key: hdr.SenderID}
	if !m.whitelist.Allow(sender) {
		m.log.WithField("sender", sender).Debug("relay request from non-whitelisted sender, dropping")
		return
	}

	recipient := types.TypedKey{Kind: hdr.CryptoKind, Key: hdr.RecipientID}
	var ref *routingtable.NodeRef
	var ok bool
	if domain == types.RoutingDomainPublicInternet {
		ref, ok = m.routing.Lookup(recipient.Key, routingtable.Filter{})
	} else {
		// Local-only lookup: never resolve a relay target over the DHT
		// for a frame that arrived on the private-network domain.
		ref, ok = m.routing.Lookup(recipient.Key, routingtable.Filter{Domains: map[types.RoutingDomain]bool{domain: true}})
	}
	if !ok {
		m.log.WithField("recipient", recipient).Debug("relay target unknown, dropping")
		return
	}
	defer ref.Release()

	detail, ok := ref.BestDialInfo(domain)
	if !ok {
		m.log.WithField("recipient", recipient).Debug("relay target has no usable dial info, dropping")
		return
	}
	conn, err := m.connmgr.GetOrCreateConnection(ctx, m.dialer, nil, detail.DialInfo)
	if err != nil {
		m.log.WithError(err).WithField("recipient", recipient).Debug("relay dial failed, dropping")
		return
	}
	if err := conn.WriteMessage(ctx, data); err != nil {
		m.log.WithError(err).WithField("recipient", recipient).Debug("relay forward failed")
	}
}

func (m *Manager) handleOutOfBandReceipt(rest []byte) {
	r, err := receipt.Decode(rest)
	if err != nil {
		m.log.Debug("malformed out-of-band receipt, dropping")
		return
	}
	if !receipt.Verify(r) {
		m.log.Debug("out-of-band receipt failed signature verification, dropping")
		return
	}
	m.receipts.HandleReceipt(r, receipt.Return{Kind: receipt.ReturnOutOfBand})
}
