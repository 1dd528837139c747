package netman

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/charlesrocket/veilid/types"
)

// relayWhitelist bounds which senders this node will forward envelopes
// for when acting as a relay (spec §9 "Client whitelist for relaying"):
// a size-bounded LRU of recently-seen sender TypedKeys with an absolute
// per-entry TTL, refreshed on access and evicting least-recently-used
// on overflow.
type relayWhitelist struct {
	ttl   time.Duration
	cache *lru.Cache

	mu sync.Mutex
}

func newRelayWhitelist(size int, ttl time.Duration) *relayWhitelist {
	cache, err := lru.New(size)
	if err != nil {
		// size is always a positive compile-time constant from New's
		// caller; lru.New only fails for size <= 0.
		panic(err)
	}
	return &relayWhitelist{ttl: ttl, cache: cache}
}

// Grant records sender as permitted to relay through this node, valid
// until ttl elapses without being refreshed by Allow.
func (w *relayWhitelist) Grant(sender types.TypedKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache.Add(sender, time.Now().Add(w.ttl))
}

// Allow reports whether sender is currently whitelisted, refreshing its
// TTL on a hit (so an active relay client never ages out mid-use).
func (w *relayWhitelist) Allow(sender types.TypedKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.cache.Get(sender)
	if !ok {
		return false
	}
	expiry := v.(time.Time)
	if time.Now().After(expiry) {
		w.cache.Remove(sender)
		return false
	}
	w.cache.Add(sender, time.Now().Add(w.ttl))
	return true
}

// reporterBlock is the /24 (IPv4) or /56 (IPv6) prefix a public-address
// report is attributed to, so that many reports from the same operator
// behind one NAT count as one distinct reporter (spec §4.6.5
// "distinct-reporter threshold").
type reporterBlock string

func blockFor(ip net.IP, v6PrefixBits int) reporterBlock {
	if v4 := ip.To4(); v4 != nil {
		return reporterBlock(net.IPNet{IP: v4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}.String())
	}
	mask := net.CIDRMask(v6PrefixBits, 128)
	return reporterBlock(net.IPNet{IP: ip.Mask(mask), Mask: mask}.String())
}

// perProtoAddr scopes a public-address observation LRU to one
// (ProtocolType, AddressType) pair (spec §4.6.5: "per-(ProtocolType,
// AddressType) LRU").
type perProtoAddr struct {
	Protocol types.ProtocolType
	AddrType types.AddressType
}

type observation struct {
	addr     types.SocketAddress
	reporter reporterBlock
}

type denyEntry struct {
	until time.Time
}

// publicAddressTracker implements spec §4.6.5's public-address change
// detection: for each (ProtocolType, AddressType), an LRU of reporter
// block -> observed SocketAddress, plus a denylist of reporter blocks
// caught disagreeing with the consensus. PUBLIC_ADDRESS_CHANGE_DETECTION_COUNT
// distinct, non-denied reporters agreeing on a new address triggers
// rediscovery.
type publicAddressTracker struct {
	lruSize      int
	threshold    int
	denyInitial  time.Duration
	denyExtended time.Duration
	v6PrefixBits int

	mu      sync.Mutex
	byClass map[perProtoAddr]*lru.Cache
	deny    map[perProtoAddr]map[reporterBlock]denyEntry
	current map[perProtoAddr]types.SocketAddress
}

func newPublicAddressTracker(lruSize, threshold int, denyInitial, denyExtended time.Duration, v6PrefixBits int) *publicAddressTracker {
	return &publicAddressTracker{
		lruSize:      lruSize,
		threshold:    threshold,
		denyInitial:  denyInitial,
		denyExtended: denyExtended,
		v6PrefixBits: v6PrefixBits,
		byClass:      make(map[perProtoAddr]*lru.Cache),
		deny:         make(map[perProtoAddr]map[reporterBlock]denyEntry),
		current:      make(map[perProtoAddr]types.SocketAddress),
	}
}

// ChangeResult reports whether a Report call crossed the distinct-
// reporter threshold for a new address, and whether the reporter was
// just denylisted for disagreeing with consensus.
type ChangeResult struct {
	Changed    bool
	NewAddress types.SocketAddress
	Denylisted bool
}

// Report records that reporter observed addr for this node over proto
// addressed as addrType (spec §4.6.5). inboundCapable selects which of
// the two oppositely-behaving branches applies: an inbound-capable node
// rediscovers on *disagreement* (any report inconsistent with its
// believed address is suspicious), while an outbound-only node
// rediscovers on *agreement* (only consensus among independent reporters
// is trustworthy, since it cannot verify directly).
func (t *publicAddressTracker) Report(class perProtoAddr, reporterIP net.IP, addr types.SocketAddress, inboundCapable bool) ChangeResult {
	block := blockFor(reporterIP, t.v6PrefixBits)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isDenied(class, block) {
		return ChangeResult{}
	}

	cache, ok := t.byClass[class]
	if !ok {
		c, err := lru.New(t.lruSize)
		if err != nil {
			panic(err)
		}
		cache = c
		t.byClass[class] = cache
	}

	believed, hasBelief := t.current[class]

	// Store the report: the LRU maps reporter block -> its most recently
	// observed address, regardless of branch (spec §4.6.5 "store the
	// report in the LRU").
	cache.Add(block, observation{addr: addr, reporter: block})

	if inboundCapable && hasBelief {
		// Count *distinct reporter blocks* whose stored report disagrees
		// with our current belief — never on a single report, only once
		// PUBLIC_ADDRESS_CHANGE_DETECTION_COUNT distinct blocks have each
		// disagreed (spec §4.6.5, Testable Property "A single dissenting
		// reporter never triggers rediscovery; exactly
		// PUBLIC_ADDRESS_CHANGE_DETECTION_COUNT distinct reporter blocks
		// do.").
		dissenters := make(map[reporterBlock]struct{})
		for _, k := range cache.Keys() {
			v, ok := cache.Peek(k)
			if !ok {
				continue
			}
			obs := v.(observation)
			if !believed.Equal(obs.addr) {
				dissenters[obs.reporter] = struct{}{}
			}
		}
		if len(dissenters) < t.threshold {
			return ChangeResult{}
		}

		for b := range dissenters {
			t.denylistLocked(class, b, false)
		}
		cache.Purge()
		return ChangeResult{Changed: true, Denylisted: true, NewAddress: addr}
	}

	type tally struct {
		addr      types.SocketAddress
		reporters map[reporterBlock]struct{}
	}
	counts := make(map[string]*tally)
	for _, k := range cache.Keys() {
		v, ok := cache.Peek(k)
		if !ok {
			continue
		}
		obs := v.(observation)
		key := obs.addr.String()
		tl, ok := counts[key]
		if !ok {
			tl = &tally{addr: obs.addr, reporters: make(map[reporterBlock]struct{})}
			counts[key] = tl
		}
		tl.reporters[obs.reporter] = struct{}{}
	}

	for _, tl := range counts {
		if len(tl.reporters) < t.threshold {
			continue
		}
		// Outbound-only: consensus among independent reporters agreeing
		// on the same address is the trigger, since this node cannot
		// verify its own reachability directly.
		if !hasBelief || !believed.Equal(tl.addr) {
			t.current[class] = tl.addr
			return ChangeResult{Changed: true, NewAddress: tl.addr}
		}
	}

	return ChangeResult{}
}

// ConfirmDissent extends a previously denylisted reporter block's
// expiry from the initial 5-minute window to the 60-minute punitive
// window, for use once the network component's rediscovery confirms
// the dissenting reports were wrong about the public address (spec
// §4.6.5 "extend their denylist entry to 60 minutes as punishment").
func (t *publicAddressTracker) ConfirmDissent(class perProtoAddr, reporterIP net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.denylistLocked(class, blockFor(reporterIP, t.v6PrefixBits), true)
}

// Snapshot returns the current believed address per class.
func (t *publicAddressTracker) Snapshot() map[perProtoAddr]types.SocketAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[perProtoAddr]types.SocketAddress, len(t.current))
	for k, v := range t.current {
		out[k] = v
	}
	return out
}

func (t *publicAddressTracker) isDenied(class perProtoAddr, block reporterBlock) bool {
	m, ok := t.deny[class]
	if !ok {
		return false
	}
	entry, ok := m[block]
	if !ok {
		return false
	}
	if time.Now().After(entry.until) {
		delete(m, block)
		return false
	}
	return true
}

func (t *publicAddressTracker) denylistLocked(class perProtoAddr, block reporterBlock, extended bool) {
	m, ok := t.deny[class]
	if !ok {
		m = make(map[reporterBlock]denyEntry)
		t.deny[class] = m
	}
	d := t.denyInitial
	if extended {
		d = t.denyExtended
	}
	m[block] = denyEntry{until: time.Now().Add(d)}
}

// addrStats is the rolling per-address transfer summary of spec §3
// ("BucketEntry ... transfer and latency rolling stats"), kept
// independently of any single bucket entry so relayed/unauthenticated
// traffic is still accounted.
type addrStats struct {
	BytesSent     uint64
	BytesReceived uint64
	LastSeen      time.Time
}

// perAddressStats is the bounded table of per-remote-socket-address
// rolling stats (SPEC_FULL supplemented feature, sized to
// IPADDR_TABLE_SIZE).
type perAddressStats struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newPerAddressStats(size int) *perAddressStats {
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &perAddressStats{cache: cache}
}

// Record accounts sent/received bytes against addr's rolling stats,
// creating a fresh entry on first contact.
func (p *perAddressStats) Record(addr types.SocketAddress, received, sent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := addr.String()
	var s addrStats
	if v, ok := p.cache.Get(key); ok {
		s = v.(addrStats)
	}
	s.BytesReceived += uint64(received)
	s.BytesSent += uint64(sent)
	s.LastSeen = time.Now()
	p.cache.Add(key, s)
}

// Stats returns the current rolling stats for addr, if any.
func (p *perAddressStats) Stats(addr types.SocketAddress) (addrStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.cache.Get(addr.String())
	if !ok {
		return addrStats{}, false
	}
	return v.(addrStats), true
}
