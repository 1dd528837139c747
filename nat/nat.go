// Package nat implements port-mapping discovery for the public-address
// detection flow of spec §4.6.5: a node behind a home router may still
// become inbound-capable if it can open a port mapping via UPnP or
// NAT-PMP, changing its NetworkClass from OutboundOnly to Mapped.
package nat

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Interface is implemented by all NAT traversal methods.
type Interface interface {
	// AddMapping maps an external port to an internal one for the
	// given protocol ("UDP" or "TCP") for lifetime. Map asks for a
	// 20-minute lifetime and refreshes the mapping every 15 minutes.
	AddMapping(protocol string, extport, intport int, name string, lifetime time.Duration) error
	// DeleteMapping removes a previously added mapping.
	DeleteMapping(protocol string, extport, intport int) error
	// ExternalIP returns the gateway's external address, if known.
	ExternalIP() (net.IP, error)
	String() string
}

// Parse parses a NAT method description: "none", "extip:<ip>", "upnp",
// "pmp", "pmp:<gateway-ip>", or "any".
func Parse(spec string) (Interface, error) {
	var (
		parts = strings.SplitN(spec, ":", 2)
		mech  = strings.ToLower(parts[0])
		ip    net.IP
	)
	if len(parts) > 1 {
		ip = net.ParseIP(parts[1])
		if ip == nil {
			return nil, fmt.Errorf("nat: invalid IP %q in %q", parts[1], spec)
		}
	}
	switch mech {
	case "", "none", "off":
		return nil, nil
	case "any", "auto", "on":
		return Any(), nil
	case "extip", "ip":
		if ip == nil {
			return nil, fmt.Errorf("nat: extip requires an IP address, got %q", spec)
		}
		return ExtIP(ip), nil
	case "upnp":
		return UPnP(), nil
	case "pmp", "natpmp", "nat-pmp":
		return PMP(ip), nil
	default:
		return nil, fmt.Errorf("nat: unknown mechanism %q in %q", mech, spec)
	}
}

// ExtIP returns a static external address, useful when the operator
// already knows their public IP and wants to skip discovery entirely.
func ExtIP(ip net.IP) Interface {
	return extIP(ip)
}

type extIP net.IP

func (n extIP) ExternalIP() (net.IP, error) { return net.IP(n), nil }
func (n extIP) String() string              { return fmt.Sprintf("ExtIP(%v)", net.IP(n)) }
func (extIP) AddMapping(string, int, int, string, time.Duration) error { return nil }
func (extIP) DeleteMapping(string, int, int) error                     { return nil }

// Any returns a NAT interface that tries UPnP, then NAT-PMP, then falls
// back to no mapping at all, keeping the first of them that is found.
// Discovery runs once, on first use.
func Any() Interface {
	return startAutoDiscover()
}

// Map establishes a port mapping with a mapTimeout lifetime, refreshes
// it every mapUpdateInterval, and deletes it once c is closed. The
// caller should run this in its own goroutine; it blocks until c is
// closed. A failed add or refresh is logged and tried again at the next
// refresh; there is no backoff.
func Map(m Interface, c <-chan struct{}, protocol string, extport, intport int, name string) {
	log := logrus.WithField("component", "nat")
	refresh := time.NewTimer(mapUpdateInterval)
	defer refresh.Stop()
	if err := m.AddMapping(protocol, extport, intport, name, mapTimeout); err != nil {
		log.WithError(err).Debug("couldn't add port mapping")
	} else {
		log.WithField("method", m).Info("mapped network port")
	}
	for {
		select {
		case <-c:
			if err := m.DeleteMapping(protocol, extport, intport); err != nil {
				log.WithError(err).Debug("couldn't delete port mapping")
			}
			return
		case <-refresh.C:
			if err := m.AddMapping(protocol, extport, intport, name, mapTimeout); err != nil {
				log.WithError(err).Debug("couldn't refresh port mapping")
			}
			refresh.Reset(mapUpdateInterval)
		}
	}
}

const (
	mapTimeout        = 20 * time.Minute
	mapUpdateInterval = 15 * time.Minute
)

// autoDiscover lazily probes for a working NAT interface on first use,
// caching the winner (or the absence of one).
type autoDiscover struct {
	once sync.Once
	found Interface
}

func startAutoDiscover() Interface {
	return &autoDiscover{}
}

func (n *autoDiscover) probe() {
	n.once.Do(func() {
		if found := discoverUPnP(); found != nil {
			n.found = found
			return
		}
		if found := discoverPMP(); found != nil {
			n.found = found
		}
	})
}

func (n *autoDiscover) AddMapping(protocol string, extport, intport int, name string, lifetime time.Duration) error {
	n.probe()
	if n.found == nil {
		return fmt.Errorf("nat: no NAT interface discovered")
	}
	return n.found.AddMapping(protocol, extport, intport, name, lifetime)
}

func (n *autoDiscover) DeleteMapping(protocol string, extport, intport int) error {
	n.probe()
	if n.found == nil {
		return nil
	}
	return n.found.DeleteMapping(protocol, extport, intport)
}

func (n *autoDiscover) ExternalIP() (net.IP, error) {
	n.probe()
	if n.found == nil {
		return nil, fmt.Errorf("nat: no NAT interface discovered")
	}
	return n.found.ExternalIP()
}

func (n *autoDiscover) String() string {
	n.probe()
	if n.found == nil {
		return "any(none found)"
	}
	return n.found.String()
}
