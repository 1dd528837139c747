package routingtable

import (
	"sync/atomic"

	"github.com/charlesrocket/veilid/nodeinfo"
	"github.com/charlesrocket/veilid/types"
)

// Filter narrows a NodeRef's view of its entry to a subset of routing
// domains, protocol types, and address types (spec §4.5 "NodeRef ...
// may carry a filter").
type Filter struct {
	Domains   map[types.RoutingDomain]bool
	Protocols types.ProtocolTypeSet
	Addresses types.AddressTypeSet
}

// AllowsDomain reports whether d passes the filter (no Domains set means
// "all domains").
func (f Filter) AllowsDomain(d types.RoutingDomain) bool {
	if len(f.Domains) == 0 {
		return true
	}
	return f.Domains[d]
}

// AllowsProtocol reports whether p passes the filter (zero value means
// "all protocols").
func (f Filter) AllowsProtocol(p types.ProtocolType) bool {
	if f.Protocols == 0 {
		return true
	}
	return f.Protocols.Contains(p)
}

// NodeRef is a reference-counted handle to a bucket Entry (spec §4.5).
// Holding one guarantees the entry survives eviction; cloning increments
// the shared refcount, Release decrements it. The zero value is not
// valid; obtain a NodeRef via Table.Lookup/ClosestNodes.
type NodeRef struct {
	entry    *Entry
	table    *Table
	filter   Filter
	released int32
}

func newNodeRef(t *Table, e *Entry, filter Filter) *NodeRef {
	e.addRef()
	return &NodeRef{entry: e, table: t, filter: filter}
}

// Clone returns a new NodeRef sharing the same entry and incrementing
// its refcount. The new handle carries filter in place of this handle's
// filter; the two are not combined.
func (r *NodeRef) Clone(filter Filter) *NodeRef {
	return newNodeRef(r.table, r.entry, filter)
}

// NodeID returns the referenced entry's identity.
func (r *NodeRef) NodeID() types.TypedKey {
	return r.entry.NodeID()
}

// Filter returns this handle's narrowing filter.
func (r *NodeRef) Filter() Filter {
	return r.filter
}

// WithEntry runs f against the referenced entry under the table's
// invariants; the entry cannot be evicted while f runs since this
// NodeRef is held (spec §4.5 "may be mutated through a scoped
// accessor").
func (r *NodeRef) WithEntry(f func(*Entry)) {
	f(r.entry)
}

// BestDialInfo picks a DialInfoDetail for domain honoring this NodeRef's
// protocol/address filters, preferring Direct reachability, then falling
// back to the first remaining candidate (spec §4.6.1 step 2: "Dial-info
// filter ... come from the NodeRef").
func (r *NodeRef) BestDialInfo(domain types.RoutingDomain) (nodeinfo.DialInfoDetail, bool) {
	sni, ok := r.entry.SignedNodeInfo(domain)
	if !ok {
		return nodeinfo.DialInfoDetail{}, false
	}
	var fallback *nodeinfo.DialInfoDetail
	for i := range sni.Info.DialInfoDetails {
		d := sni.Info.DialInfoDetails[i]
		if !r.filter.AllowsProtocol(d.DialInfo.Protocol()) {
			continue
		}
		if !r.filter.AllowsAddressType(d.DialInfo.AddressType()) {
			continue
		}
		if d.Class == nodeinfo.DialInfoClassDirect {
			return d, true
		}
		if fallback == nil {
			fb := d
			fallback = &fb
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return nodeinfo.DialInfoDetail{}, false
}

// AdvertisesProtocol reports whether the entry's signed node info for
// domain lists any dial info using proto, regardless of this NodeRef's
// own filter — unlike BestDialInfo, this answers "can the peer
// actually be reached this way" rather than "is the caller willing to
// use this way" (spec §4.6.3: hole-punch/reverse-connect selection
// must be driven by the target's advertised capabilities, not by
// whatever filter the caller happened to narrow this NodeRef with).
func (r *NodeRef) AdvertisesProtocol(domain types.RoutingDomain, proto types.ProtocolType) bool {
	sni, ok := r.entry.SignedNodeInfo(domain)
	if !ok {
		return false
	}
	for i := range sni.Info.DialInfoDetails {
		if sni.Info.DialInfoDetails[i].DialInfo.Protocol() == proto {
			return true
		}
	}
	return false
}

// AllowsAddressType reports whether t passes the filter (zero value
// means "all address types").
func (f Filter) AllowsAddressType(t types.AddressType) bool {
	if f.Addresses == 0 {
		return true
	}
	return f.Addresses.Contains(t)
}

// Release decrements the entry's refcount. If the bucket had already
// marked this entry for eviction and the count reaches zero, the entry
// is dropped from its bucket now.
func (r *NodeRef) Release() {
	if !atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		return
	}
	if r.entry.release() {
		r.table.finalizeEviction(r.entry)
	}
}
