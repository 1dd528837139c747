// Package conntable implements the connection table of spec §4.3: a map
// from ConnectionDescriptor to an opaque handle, enforcing that no two
// live connections share a descriptor.
package conntable

import (
	"errors"
	"sync"

	"github.com/charlesrocket/veilid/types"
)

// ErrExists is returned by Add when a connection already occupies the
// given descriptor.
var ErrExists = errors.New("conntable: connection descriptor already registered")

// ErrNotFound is returned by Remove when the descriptor is unknown.
var ErrNotFound = errors.New("conntable: connection descriptor not found")

// ErrStale is returned by Remove when desc's current entry no longer
// holds the handle the caller expected to retire.
var ErrStale = errors.New("conntable: handle no longer registered under this descriptor")

// Table maps ConnectionDescriptor to a handle H. H is generic because
// the connection manager stores its own *Connection type; this package
// only enforces the uniqueness invariant and provides safe concurrent
// access. H must be comparable so Remove can verify it is still
// retiring the handle it was given, not a different connection that
// has since claimed the same descriptor.
type Table[H comparable] struct {
	mu      sync.RWMutex
	entries map[types.ConnectionDescriptorKey]entry[H]
}

type entry[H comparable] struct {
	desc   types.ConnectionDescriptor
	handle H
}

// New creates an empty table.
func New[H comparable]() *Table[H] {
	return &Table[H]{entries: make(map[types.ConnectionDescriptorKey]entry[H])}
}

// Add registers handle under desc. Returns ErrExists if desc is already
// occupied; the connection manager must resolve that by either reusing
// the existing connection or closing the new one before retrying.
func (t *Table[H]) Add(desc types.ConnectionDescriptor, handle H) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := desc.Key()
	if _, ok := t.entries[key]; ok {
		return ErrExists
	}
	t.entries[key] = entry[H]{desc: desc, handle: handle}
	return nil
}

// Get returns the handle registered under desc.
func (t *Table[H]) Get(desc types.ConnectionDescriptor) (H, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[desc.Key()]
	return e.handle, ok
}

// Remove drops desc's entry, but only if it still holds expected.
// Returns ErrNotFound if desc is unknown, and ErrStale — without
// touching the table — if a different handle has since claimed desc
// (e.g. a duplicate connection's teardown racing the survivor's own
// admission). Callers that don't care which handle they're retiring
// should fetch it from Get immediately before calling Remove.
func (t *Table[H]) Remove(desc types.ConnectionDescriptor, expected H) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := desc.Key()
	e, ok := t.entries[key]
	if !ok {
		return ErrNotFound
	}
	if e.handle != expected {
		return ErrStale
	}
	delete(t.entries, key)
	return nil
}

// Len returns the number of tracked connections.
func (t *Table[H]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Each calls f for every tracked (descriptor, handle) pair. f must not
// call back into the table (Add/Remove/Get) as Each holds the read lock
// for its duration.
func (t *Table[H]) Each(f func(types.ConnectionDescriptor, H)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		f(e.desc, e.handle)
	}
}
