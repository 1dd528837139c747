package netman

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/charlesrocket/veilid/nodeinfo"
	"github.com/charlesrocket/veilid/types"
)

// bootstrapReplyLimit is the maximum number of peers a bootstrap reply
// carries (spec §4.6.4: "JSON array of up to 2 PeerInfo").
const bootstrapReplyLimit = 2

// bootstrapTimeout bounds how long boot_request waits for a reply before
// degrading to an empty peer list.
const bootstrapTimeout = 10 * time.Second

// FindBootstrapNodes is satisfied by the routing table (or a dedicated
// bootstrap-node registry) and returns up to n peers suitable for
// introducing a new node to the network (spec §4.6.4
// "find_bootstrap_nodes_filtered(2)").
type FindBootstrapNodes interface {
	FindBootstrapNodesFiltered(n int) []nodeinfo.PeerInfo
}

// SetBootstrapSource installs the peer source handle_boot_request
// consults when answering an inbound "BOOT" request.
func (m *Manager) SetBootstrapSource(src FindBootstrapNodes) {
	m.mu.Lock()
	m.bootSource = src
	m.mu.Unlock()
}

// handleBootRequest implements spec §4.6.4's responder side: reply with
// a JSON array of up to bootstrapReplyLimit PeerInfo over the same
// connection-oriented descriptor the request arrived on.
func (m *Manager) handleBootRequest(ctx context.Context, desc types.ConnectionDescriptor) {
	m.mu.Lock()
	src := m.bootSource
	m.mu.Unlock()

	var peers []nodeinfo.PeerInfo
	if src != nil {
		peers = src.FindBootstrapNodesFiltered(bootstrapReplyLimit)
	}

	body, err := json.Marshal(peers)
	if err != nil {
		m.log.WithError(err).Debug("failed to marshal bootstrap reply")
		return
	}

	conn, ok := m.connmgr.Table().Get(desc)
	if !ok {
		m.log.WithField("descriptor", desc).Debug("bootstrap request arrived on an untracked descriptor")
		return
	}
	if err := conn.WriteMessage(ctx, body); err != nil {
		m.log.WithError(err).WithField("descriptor", desc).Debug("failed to write bootstrap reply")
	}
}

// BootRequest implements spec §4.6.4's requester side: dial dialInfo
// over any connection-oriented transport, send the 4-byte "BOOT"
// request, and wait for a JSON peer-list reply. Every failure mode —
// timeout, non-UTF-8, malformed JSON — degrades to an empty slice, never
// an error, per the spec's explicit degrade-to-empty discipline.
func (m *Manager) BootRequest(ctx context.Context, dialInfo types.DialInfo) []nodeinfo.PeerInfo {
	m.mu.Lock()
	handler, ok := m.handlers[dialInfo.Protocol()]
	m.mu.Unlock()
	if !ok {
		m.log.WithField("dial_info", dialInfo).Debug("no handler registered for bootstrap protocol, treating as empty peer list")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	reply, err := handler.SendRecvUnbound(ctx, dialInfo, bootMagic[:], bootstrapTimeout)
	if err != nil {
		m.log.WithError(err).WithField("dial_info", dialInfo).Debug("boot request failed, treating as empty peer list")
		return nil
	}

	if !utf8.Valid(reply) {
		m.log.WithField("dial_info", dialInfo).Debug("boot reply was not valid UTF-8, treating as empty peer list")
		return nil
	}
	var peers []nodeinfo.PeerInfo
	if err := json.Unmarshal(reply, &peers); err != nil {
		m.log.WithError(err).Debug("boot reply was not valid JSON, treating as empty peer list")
		return nil
	}
	if len(peers) > bootstrapReplyLimit {
		peers = peers[:bootstrapReplyLimit]
	}
	return peers
}
