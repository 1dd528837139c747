package nat

import (
	"fmt"
	"net"
	"strings"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
)

// pmp wraps a NAT-PMP client bound to a single gateway address.
type pmp struct {
	gw     net.IP
	client *natpmp.Client
}

// PMP returns a NAT interface that speaks NAT-PMP to gateway. If
// gateway is nil, it is guessed by guessDefaultGateway as the .1
// address of the first non-loopback IPv4 interface.
func PMP(gateway net.IP) Interface {
	if gateway == nil {
		gateway = guessDefaultGateway()
	}
	return &pmp{gw: gateway, client: natpmp.NewClient(gateway)}
}

func discoverPMP() Interface {
	gw := guessDefaultGateway()
	if gw == nil {
		return nil
	}
	p := &pmp{gw: gw, client: natpmp.NewClient(gw)}
	if _, err := p.client.GetExternalAddress(); err != nil {
		return nil
	}
	return p
}

func (n *pmp) ExternalIP() (net.IP, error) {
	res, err := n.client.GetExternalAddress()
	if err != nil {
		return nil, fmt.Errorf("nat: pmp GetExternalAddress: %w", err)
	}
	ip := res.ExternalIPAddress
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]), nil
}

func (n *pmp) AddMapping(protocol string, extport, intport int, name string, lifetime time.Duration) error {
	proto := strings.ToLower(protocol)
	_, err := n.client.AddPortMapping(proto, intport, extport, int(lifetime/time.Second))
	if err != nil {
		return fmt.Errorf("nat: pmp AddPortMapping: %w", err)
	}
	return nil
}

func (n *pmp) DeleteMapping(protocol string, extport, intport int) error {
	proto := strings.ToLower(protocol)
	// A requested lifetime of 0 deletes the mapping, per the NAT-PMP spec.
	_, err := n.client.AddPortMapping(proto, intport, extport, 0)
	if err != nil {
		return fmt.Errorf("nat: pmp delete mapping: %w", err)
	}
	return nil
}

func (n *pmp) String() string {
	return fmt.Sprintf("PMP(%v)", n.gw)
}

// guessDefaultGateway assumes the gateway sits at the .1 address of the
// first non-loopback IPv4 subnet, a common default for home routers.
func guessDefaultGateway() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		v4 := ipnet.IP.To4()
		if v4 == nil {
			continue
		}
		gw := make(net.IP, len(v4))
		copy(gw, v4)
		gw[len(gw)-1] = 1
		return gw
	}
	return nil
}
