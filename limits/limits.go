// Package limits implements per-IP/IPv6-prefix connection admission
// control, a direct port of connection_limits.rs: a count limit and a
// sliding one-minute frequency limit, each tracked separately for IPv4
// addresses (treated as single hosts) and IPv6 addresses (grouped into
// a configurable /N prefix block).
package limits

import (
	"errors"
	"net"
	"time"

	"github.com/charlesrocket/veilid/mclock"
)

// ErrCountExceeded means the IP block already holds the maximum
// concurrent connection count.
var ErrCountExceeded = errors.New("limits: connection count exceeded")

// ErrRateExceeded means the IP block has connected too many times in
// the last minute.
var ErrRateExceeded = errors.New("limits: connection frequency exceeded")

// ErrNotInTable is returned by Remove for an address with no tracked
// connections.
var ErrNotInTable = errors.New("limits: address not in table")

const frequencyWindow = time.Minute

// ConnectionLimits tracks connection counts and recent-connection
// timestamps per IP block. Not safe for concurrent use; callers must
// serialize access.
type ConnectionLimits struct {
	maxPerIP4          int
	maxPerIP6Prefix    int
	ip6PrefixSize      int
	maxFrequencyPerMin int
	clock              mclock.Clock

	countByIP4       map[[4]byte]int
	countByIP6Prefix map[[16]byte]int
	timestampsByIP4  map[[4]byte][]mclock.AbsTime
	timestampsByIP6  map[[16]byte][]mclock.AbsTime
}

// New builds a ConnectionLimits from config values. clock is injectable
// so tests can drive time deterministically with mclock.Simulated.
func New(maxPerIP4, maxPerIP6Prefix, ip6PrefixSize, maxFrequencyPerMin int, clock mclock.Clock) *ConnectionLimits {
	if clock == nil {
		clock = System()
	}
	return &ConnectionLimits{
		maxPerIP4:          maxPerIP4,
		maxPerIP6Prefix:    maxPerIP6Prefix,
		ip6PrefixSize:      ip6PrefixSize,
		maxFrequencyPerMin: maxFrequencyPerMin,
		clock:              clock,
		countByIP4:         make(map[[4]byte]int),
		countByIP6Prefix:   make(map[[16]byte]int),
		timestampsByIP4:    make(map[[4]byte][]mclock.AbsTime),
		timestampsByIP6:    make(map[[16]byte][]mclock.AbsTime),
	}
}

// System returns the real-time clock, used as New's default so callers
// don't need to import mclock just to get System{}.
func System() mclock.Clock { return mclock.System{} }

// ipToBlock folds an IPv6 host address down to its /ip6PrefixSize block
// by setting every bit beyond the prefix length to 1, matching the
// Rust implementation's octet-by-octet masking. IPv4 addresses are
// treated as single hosts (the block is the address itself).
func (l *ConnectionLimits) ipToBlock(ip net.IP) (v4 [4]byte, v6 [16]byte, isV4 bool) {
	if v4addr := ip.To4(); v4addr != nil {
		copy(v4[:], v4addr)
		return v4, v6, true
	}
	raw := ip.To16()
	hostLen := 128 - l.ip6PrefixSize
	if hostLen < 0 {
		hostLen = 0
	}
	out := make([]byte, 16)
	copy(out, raw)
	for i := 15; i >= 0; i-- {
		if hostLen >= 8 {
			out[i] = 0xFF
			hostLen -= 8
		} else if hostLen > 0 {
			out[i] |= byte(0xFF >> uint(8-hostLen))
			break
		} else {
			break
		}
	}
	copy(v6[:], out)
	return v4, v6, false
}

func (l *ConnectionLimits) purgeOldTimestamps(now mclock.AbsTime) {
	cutoff := now - mclock.AbsTime(frequencyWindow)
	for k, v := range l.timestampsByIP4 {
		kept := retainAfter(v, cutoff)
		if len(kept) == 0 {
			delete(l.timestampsByIP4, k)
		} else {
			l.timestampsByIP4[k] = kept
		}
	}
	for k, v := range l.timestampsByIP6 {
		kept := retainAfter(v, cutoff)
		if len(kept) == 0 {
			delete(l.timestampsByIP6, k)
		} else {
			l.timestampsByIP6[k] = kept
		}
	}
}

func retainAfter(ts []mclock.AbsTime, cutoff mclock.AbsTime) []mclock.AbsTime {
	out := ts[:0]
	for _, t := range ts {
		if t >= cutoff {
			out = append(out, t)
		}
	}
	return out
}

// Add admits a new connection from addr, or returns ErrCountExceeded /
// ErrRateExceeded if the owning IP block is already at its limit.
func (l *ConnectionLimits) Add(addr net.IP) error {
	now := l.clock.Now()
	l.purgeOldTimestamps(now)

	v4, v6, isV4 := l.ipToBlock(addr)
	if isV4 {
		if l.countByIP4[v4] >= l.maxPerIP4 {
			return ErrCountExceeded
		}
		ts := l.timestampsByIP4[v4]
		if len(ts) >= l.maxFrequencyPerMin {
			return ErrRateExceeded
		}
		l.countByIP4[v4]++
		l.timestampsByIP4[v4] = append(ts, now)
		return nil
	}

	if l.countByIP6Prefix[v6] >= l.maxPerIP6Prefix {
		return ErrCountExceeded
	}
	ts := l.timestampsByIP6[v6]
	if len(ts) >= l.maxFrequencyPerMin {
		return ErrRateExceeded
	}
	l.countByIP6Prefix[v6]++
	l.timestampsByIP6[v6] = append(ts, now)
	return nil
}

// Remove releases one connection slot held by addr's IP block.
func (l *ConnectionLimits) Remove(addr net.IP) error {
	l.purgeOldTimestamps(l.clock.Now())

	v4, v6, isV4 := l.ipToBlock(addr)
	if isV4 {
		cnt, ok := l.countByIP4[v4]
		if !ok {
			return ErrNotInTable
		}
		if cnt <= 1 {
			delete(l.countByIP4, v4)
		} else {
			l.countByIP4[v4] = cnt - 1
		}
		return nil
	}

	cnt, ok := l.countByIP6Prefix[v6]
	if !ok {
		return ErrNotInTable
	}
	if cnt <= 1 {
		delete(l.countByIP6Prefix, v6)
	} else {
		l.countByIP6Prefix[v6] = cnt - 1
	}
	return nil
}
