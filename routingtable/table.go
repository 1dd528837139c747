package routingtable

import (
	"sort"
	"sync"
	"time"

	"github.com/charlesrocket/veilid/mclock"
	"github.com/charlesrocket/veilid/types"
)

// bucket holds every entry whose id differs from this node's at the
// same highest bit index (spec §4.5: "A vector of buckets indexed by
// index of the highest bit at which the peer's node id differs from
// ours").
type bucket struct {
	mu       sync.Mutex
	entries  map[types.NodeId]*Entry
	depthCap int
}

// Table is the routing table: a vector of buckets, a lookup index by
// id, and the liveness/ping policy every entry is evaluated against.
type Table struct {
	selfID types.NodeId
	clock  mclock.Clock
	policy PingPolicy

	mu      sync.RWMutex
	buckets []*bucket
}

// BucketCaps returns the default depth-cap schedule of spec §4.5:
// "caps are larger for low indices (close peers) and shrink
// geometrically." Index 0 (ids whose first differing bit is the most
// significant one) and the next seven buckets get baseCap; the cap
// halves after every eighth bucket, down to a floor of 1.
func BucketCaps(baseCap, numBuckets int) []int {
	caps := make([]int, numBuckets)
	cap := baseCap
	for i := 0; i < numBuckets; i++ {
		if cap < 1 {
			cap = 1
		}
		caps[i] = cap
		if i%8 == 7 {
			cap /= 2
		}
	}
	return caps
}

// New builds a Table for the node identified by selfID, with
// NodeIDSize*8 buckets capped per BucketCaps(baseDepthCap, ...).
func New(selfID types.NodeId, clock mclock.Clock, policy PingPolicy, baseDepthCap int) *Table {
	numBuckets := types.NodeIDSize * 8
	caps := BucketCaps(baseDepthCap, numBuckets)
	t := &Table{
		selfID:  selfID,
		clock:   clock,
		policy:  policy,
		buckets: make([]*bucket, numBuckets),
	}
	for i := range t.buckets {
		t.buckets[i] = &bucket{entries: make(map[types.NodeId]*Entry), depthCap: caps[i]}
	}
	return t
}

func (t *Table) bucketFor(id types.NodeId) *bucket {
	bit := t.selfID.FirstDifferingBit(id)
	if bit < 0 {
		bit = 0
	}
	return t.buckets[bit]
}

// GetOrCreate returns a NodeRef to the entry for id, creating it (and
// triggering a kick if the bucket is full) if it doesn't already exist.
func (t *Table) GetOrCreate(id types.TypedKey, filter Filter) *NodeRef {
	b := t.bucketFor(id.Key)
	b.mu.Lock()
	e, ok := b.entries[id.Key]
	if !ok {
		e = newEntry(id)
		b.entries[id.Key] = e
		t.kickLocked(b)
	}
	b.mu.Unlock()
	return newNodeRef(t, e, filter)
}

// Lookup returns a NodeRef for id if an entry already exists.
func (t *Table) Lookup(id types.NodeId, filter Filter) (*NodeRef, bool) {
	b := t.bucketFor(id)
	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	return newNodeRef(t, e, filter), true
}

// kickLocked enforces depthCap by evicting the least-valuable entries
// (sorted by liveness then recency), skipping any entry still
// referenced (spec §4.5 "any entry still referenced by a NodeRef is
// kept regardless"). Caller holds b.mu.
func (t *Table) kickLocked(b *bucket) {
	if len(b.entries) <= b.depthCap {
		return
	}
	now := t.clock.Now()
	type scored struct {
		id    types.NodeId
		e     *Entry
		state LivenessState
		last  mclock.AbsTime
	}
	list := make([]scored, 0, len(b.entries))
	for id, e := range b.entries {
		st := e.StateAt(now, t.policy.UnreliableSpan, t.policy.NeverReachedCount)
		last := e.LastSeen()
		list = append(list, scored{id: id, e: e, state: st, last: last})
	}
	// Reliable > Unreliable > Dead, then more-recently-seen first; the
	// excess tail (worst entries) is what gets dropped.
	sort.Slice(list, func(i, j int) bool {
		if list[i].state != list[j].state {
			return livenessRank(list[i].state) < livenessRank(list[j].state)
		}
		return list[i].last > list[j].last
	})
	excess := len(list) - b.depthCap
	for i := len(list) - 1; i >= 0 && excess > 0; i-- {
		cand := list[i]
		if cand.e.refCount() > 0 {
			cand.e.markEvictPending()
			continue
		}
		delete(b.entries, cand.id)
		excess--
	}
}

func livenessRank(s LivenessState) int {
	switch s {
	case Reliable:
		return 0
	case Unreliable:
		return 1
	default:
		return 2
	}
}

// finalizeEviction drops e from its bucket once its refcount has
// dropped to zero and it was previously marked evict-pending.
func (t *Table) finalizeEviction(e *Entry) {
	b := t.bucketFor(e.NodeID().Key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.entries[e.NodeID().Key]; ok && cur == e {
		delete(b.entries, e.NodeID().Key)
	}
}

// ClosestNodes scans every entry, keeps those passing predicate, sorts
// by XOR distance to target ascending with liveness (Reliable first) as
// tiebreaker, and returns up to n NodeRefs (spec §4.5 "Closest-node
// query").
func (t *Table) ClosestNodes(target types.NodeId, n int, filter Filter, predicate func(*Entry) bool) []*NodeRef {
	now := t.clock.Now()
	type cand struct {
		id    types.NodeId
		e     *Entry
		dist  types.NodeId
		state LivenessState
	}
	var candidates []cand

	t.mu.RLock()
	buckets := t.buckets
	t.mu.RUnlock()

	for _, b := range buckets {
		b.mu.Lock()
		for id, e := range b.entries {
			if predicate != nil && !predicate(e) {
				continue
			}
			candidates = append(candidates, cand{
				id:    id,
				e:     e,
				dist:  id.Xor(target),
				state: e.StateAt(now, t.policy.UnreliableSpan, t.policy.NeverReachedCount),
			})
		}
		b.mu.Unlock()
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].dist.Less(candidates[j].dist) && !candidates[j].dist.Less(candidates[i].dist) {
			return livenessRank(candidates[i].state) < livenessRank(candidates[j].state)
		}
		return candidates[i].dist.Less(candidates[j].dist)
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]*NodeRef, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, newNodeRef(t, candidates[i].e, filter))
	}
	return out
}

// NeedsPingEntries returns NodeRefs for every entry that currently needs
// a ping, for the ping-validator task to dispatch status RPCs against
// (spec §9 "Ping validator (ticks continuously)").
func (t *Table) NeedsPingEntries(filter Filter) []*NodeRef {
	now := t.clock.Now()
	var out []*NodeRef
	t.mu.RLock()
	buckets := t.buckets
	t.mu.RUnlock()
	for _, b := range buckets {
		b.mu.Lock()
		for _, e := range b.entries {
			if e.NeedsPing(t.policy, now) {
				out = append(out, newNodeRef(t, e, filter))
			}
		}
		b.mu.Unlock()
	}
	return out
}

// Len returns the total number of tracked entries across all buckets.
func (t *Table) Len() int {
	t.mu.RLock()
	buckets := t.buckets
	t.mu.RUnlock()
	n := 0
	for _, b := range buckets {
		b.mu.Lock()
		n += len(b.entries)
		b.mu.Unlock()
	}
	return n
}

// RefreshInterval is how often the peer-minimum-refresh task should
// check Len() against RoutingTableConfig.MinPeerCount; kept here as a
// sane default rather than in config since it is purely a task cadence,
// not a liveness constant.
const RefreshInterval = 30 * time.Second
