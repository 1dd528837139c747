// Package routingtable implements the Kademlia-style routing table of
// spec §4.5: buckets ordered by XOR distance, a reliability-driven
// liveness state machine per entry, reference-counted NodeRef handles,
// and the closest-node query.
package routingtable

import (
	"sync"
	"time"

	"github.com/charlesrocket/veilid/mclock"
	"github.com/charlesrocket/veilid/nodeinfo"
	"github.com/charlesrocket/veilid/types"
)

// LivenessState is the derived state of spec §4.5 "State machine per
// entry": purely a function of stats and time, never an explicit
// transition.
type LivenessState int

const (
	Unreliable LivenessState = iota
	Reliable
	Dead
)

func (s LivenessState) String() string {
	switch s {
	case Reliable:
		return "Reliable"
	case Dead:
		return "Dead"
	default:
		return "Unreliable"
	}
}

// perDomainSeen tracks the last-seen timestamp per protocol within one
// routing domain, and that domain's published node info.
type perDomainSeen struct {
	lastSeenByProto map[types.ProtocolType]mclock.AbsTime
	signedNodeInfo  *nodeinfo.SignedNodeInfo
	isRelay         bool
}

// Stats mirrors the RPC/transfer counters spec §4.5 derives liveness
// from.
type Stats struct {
	FailedToSend         int
	RecentLostAnswers    int
	QuestionsInFlight    int
	MessagesSent         int
	MessagesReceived     int
	FirstConsecutiveSeen mclock.AbsTime
	LastQuestion         mclock.AbsTime
	everSeen             bool
}

// Entry is a BucketEntry (spec §4.5, §8 "BucketEntry"): per-peer stats,
// per-domain node info, and a reference count cooperating with bucket
// eviction.
type Entry struct {
	mu sync.Mutex

	nodeID types.TypedKey
	stats  Stats
	byDomain map[types.RoutingDomain]*perDomainSeen

	refcount int32
	// evictPending marks an entry the owning bucket wants to drop once
	// refcount reaches zero (spec §4.5 "the kick may leave the bucket
	// temporarily over cap, to be retried later").
	evictPending bool

	lastStatusAt mclock.AbsTime
}

func newEntry(id types.TypedKey) *Entry {
	return &Entry{
		nodeID:   id,
		byDomain: make(map[types.RoutingDomain]*perDomainSeen),
	}
}

// NodeID returns the entry's stable identity.
func (e *Entry) NodeID() types.TypedKey {
	return e.nodeID
}

// SignedNodeInfo returns the entry's published node info for domain, if
// any.
func (e *Entry) SignedNodeInfo(domain types.RoutingDomain) (nodeinfo.SignedNodeInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byDomain[domain]
	if !ok || d.signedNodeInfo == nil {
		return nodeinfo.SignedNodeInfo{}, false
	}
	return *d.signedNodeInfo, true
}

// UpdateSignedNodeInfo installs sni for domain, honoring the
// monotonic-timestamp-wins rule; returns false if sni was stale and
// rejected.
func (e *Entry) UpdateSignedNodeInfo(domain types.RoutingDomain, sni nodeinfo.SignedNodeInfo) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.domain(domain)
	if d.signedNodeInfo != nil && !sni.NewerThan(d.signedNodeInfo) {
		return false
	}
	cp := sni
	d.signedNodeInfo = &cp
	return true
}

func (e *Entry) domain(domain types.RoutingDomain) *perDomainSeen {
	d, ok := e.byDomain[domain]
	if !ok {
		d = &perDomainSeen{lastSeenByProto: make(map[types.ProtocolType]mclock.AbsTime)}
		e.byDomain[domain] = d
	}
	return d
}

// Touch records a successful send/receive over proto within domain at
// clock time now, resetting failure streaks (spec §4.5: Reliable
// requires failed_to_send == 0).
func (e *Entry) Touch(domain types.RoutingDomain, proto types.ProtocolType, now mclock.AbsTime) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.domain(domain)
	d.lastSeenByProto[proto] = now
	if !e.stats.everSeen {
		e.stats.everSeen = true
		e.stats.FirstConsecutiveSeen = now
	}
	e.stats.FailedToSend = 0
}

// RecordSendFailure increments the failure streak that drives Dead/
// Unreliable classification.
func (e *Entry) RecordSendFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.FailedToSend++
	e.stats.FirstConsecutiveSeen = 0
}

// RecordLostAnswer increments the lost-answer count used by the
// never-reached Dead branch.
func (e *Entry) RecordLostAnswer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.RecentLostAnswers++
}

// RecordQuestionSent marks a new outstanding question for the ping
// validator's bookkeeping.
func (e *Entry) RecordQuestionSent(now mclock.AbsTime) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.QuestionsInFlight++
	e.stats.MessagesSent++
	e.stats.LastQuestion = now
	e.lastStatusAt = now
}

// RecordAnswerReceived resolves one outstanding question successfully.
func (e *Entry) RecordAnswerReceived() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stats.QuestionsInFlight > 0 {
		e.stats.QuestionsInFlight--
	}
	e.stats.MessagesReceived++
}

// SetIsRelay marks whether this entry is a relay this node currently
// depends on, which tightens its ping interval to KEEPALIVE_INTERVAL
// regardless of liveness (spec §4.5 "Ping policy").
func (e *Entry) SetIsRelay(domain types.RoutingDomain, isRelay bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.domain(domain).isRelay = isRelay
}

func (e *Entry) isRelayAny() bool {
	for _, d := range e.byDomain {
		if d.isRelay {
			return true
		}
	}
	return false
}

func (e *Entry) hasSignedNodeInfoAny() bool {
	for _, d := range e.byDomain {
		if d.signedNodeInfo != nil {
			return true
		}
	}
	return false
}

// State derives the entry's liveness from its stats at clock time now
// (spec §4.5 "State machine per entry").
func (e *Entry) State(unreliableSpan time.Duration, neverReachedCount int) LivenessState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(mclock.Now(), unreliableSpan, neverReachedCount)
}

// StateAt is State evaluated against an explicit clock reading, for
// callers (bucket eviction, closest-node sort) that already hold one
// consistent `now` across many entries.
func (e *Entry) StateAt(now mclock.AbsTime, unreliableSpan time.Duration, neverReachedCount int) LivenessState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(now, unreliableSpan, neverReachedCount)
}

// LastSeen returns the latest per-protocol last-seen timestamp across
// every routing domain.
func (e *Entry) LastSeen() mclock.AbsTime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mostRecentlySeenLocked()
}

func (e *Entry) stateLocked(now mclock.AbsTime, unreliableSpan time.Duration, neverReachedCount int) LivenessState {
	s := e.stats
	if s.FailedToSend >= neverReachedCount {
		return Dead
	}
	if !s.everSeen && s.RecentLostAnswers >= neverReachedCount {
		return Dead
	}
	if s.everSeen && now.Sub(e.mostRecentlySeenLocked()) > unreliableSpan {
		return Dead
	}
	if s.FailedToSend == 0 && s.everSeen && now.Sub(s.FirstConsecutiveSeen) >= unreliableSpan {
		return Reliable
	}
	return Unreliable
}

// mostRecentlySeenLocked returns the latest per-protocol last-seen
// timestamp across every routing domain.
func (e *Entry) mostRecentlySeenLocked() mclock.AbsTime {
	var latest mclock.AbsTime
	for _, d := range e.byDomain {
		for _, t := range d.lastSeenByProto {
			if t > latest {
				latest = t
			}
		}
	}
	return latest
}

// NeedsPing reports whether this entry should be pinged now, per the
// policy table of spec §4.5 "Ping policy".
func (e *Entry) NeedsPing(cfg PingPolicy, now mclock.AbsTime) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.stateLocked(now, cfg.UnreliableSpan, cfg.NeverReachedCount)
	if e.isRelayAny() {
		return now.Sub(e.lastStatusAt) >= cfg.KeepaliveInterval
	}
	if state == Dead {
		return false
	}
	if e.hasSignedNodeInfoAny() && e.lastStatusAt == 0 {
		return true
	}
	switch state {
	case Unreliable:
		return now.Sub(e.lastStatusAt) >= cfg.UnreliableInterval
	case Reliable:
		due := e.stats.FirstConsecutiveSeen.Add(cfg.UnreliableSpan - cfg.UnreliableInterval)
		interval := cfg.ReliableIntervalStart
		for due.Add(interval) < now {
			interval = time.Duration(float64(interval) * cfg.ReliableMultiplier)
			if interval > cfg.ReliableIntervalMax {
				interval = cfg.ReliableIntervalMax
				break
			}
			due = due.Add(interval)
		}
		return now.Sub(e.lastStatusAt) >= interval
	}
	return false
}

// PingPolicy holds the liveness/ping constants of config.RoutingTableConfig
// in the form NeedsPing/State consume, decoupling this package from the
// config package's JSON tags.
type PingPolicy struct {
	ReliableIntervalStart time.Duration
	ReliableIntervalMax   time.Duration
	ReliableMultiplier    float64
	UnreliableSpan        time.Duration
	UnreliableInterval    time.Duration
	KeepaliveInterval     time.Duration
	NeverReachedCount     int
}

func (e *Entry) addRef() {
	e.mu.Lock()
	e.refcount++
	e.mu.Unlock()
}

func (e *Entry) release() (canEvict bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refcount--
	return e.refcount <= 0 && e.evictPending
}

func (e *Entry) refCount() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refcount
}

func (e *Entry) markEvictPending() {
	e.mu.Lock()
	e.evictPending = true
	e.mu.Unlock()
}
