package nat

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
)

// upnp wraps whichever WAN connection service a discovered IGD exposes.
// Different router firmwares implement different generations of the
// internet gateway profile, so both igd1 and igd2 clients are tried.
type upnp struct {
	dev     *goupnp.RootDevice
	service string
	client  upnpClient
}

type upnpClient interface {
	GetExternalIPAddress() (string, error)
	AddPortMapping(newRemoteHost string, newExternalPort uint16, newProtocol string, newInternalPort uint16, newInternalClient string, newEnabled bool, newPortMappingDescription string, newLeaseDuration uint32) error
	DeletePortMapping(newRemoteHost string, newExternalPort uint16, newProtocol string) error
	GetServiceClient() *goupnp.ServiceClient
}

// UPnP returns a NAT interface backed by UPnP IGD discovery. Discovery
// is lazy: the first AddMapping/ExternalIP/DeleteMapping call performs
// it and caches the winning client.
func UPnP() Interface {
	return &upnp{}
}

func discoverUPnP() Interface {
	found := &upnp{}
	if err := found.discover(); err != nil {
		return nil
	}
	return found
}

func (n *upnp) discover() error {
	if n.client != nil {
		return nil
	}
	clients1, _, _ := internetgateway1.NewWANIPConnection1Clients()
	for _, c := range clients1 {
		n.client = c
		n.dev = &c.GetServiceClient().RootDevice
		n.service = "WANIPConnection1"
		return nil
	}
	ppp1, _, _ := internetgateway1.NewWANPPPConnection1Clients()
	for _, c := range ppp1 {
		n.client = c
		n.dev = &c.GetServiceClient().RootDevice
		n.service = "WANPPPConnection1"
		return nil
	}
	clients2, _, _ := internetgateway2.NewWANIPConnection2Clients()
	for _, c := range clients2 {
		n.client = c
		n.dev = &c.GetServiceClient().RootDevice
		n.service = "WANIPConnection2"
		return nil
	}
	return fmt.Errorf("nat: no UPnP gateway found")
}

func (n *upnp) ExternalIP() (net.IP, error) {
	if err := n.discover(); err != nil {
		return nil, err
	}
	s, err := n.client.GetExternalIPAddress()
	if err != nil {
		return nil, fmt.Errorf("nat: upnp GetExternalIPAddress: %w", err)
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("nat: upnp returned unparseable address %q", s)
	}
	return ip, nil
}

func (n *upnp) AddMapping(protocol string, extport, intport int, name string, lifetime time.Duration) error {
	if err := n.discover(); err != nil {
		return err
	}
	ip, err := internalAddress()
	if err != nil {
		return err
	}
	protocol = strings.ToUpper(protocol)
	_ = n.DeleteMapping(protocol, extport, intport)
	return n.client.AddPortMapping("", uint16(extport), protocol, uint16(intport), ip.String(), true, name, uint32(lifetime/time.Second))
}

func (n *upnp) DeleteMapping(protocol string, extport, intport int) error {
	if err := n.discover(); err != nil {
		return err
	}
	return n.client.DeletePortMapping("", uint16(extport), strings.ToUpper(protocol))
}

func (n *upnp) String() string {
	if n.dev == nil {
		return "UPnP(not discovered)"
	}
	return fmt.Sprintf("UPnP(%s @ %s)", n.service, n.dev.Device.FriendlyName)
}

// internalAddress returns the first non-loopback IPv4 address of a local
// interface, used as the mapping's internal client address.
func internalAddress() (net.IP, error) {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range ifaces {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if v4 := ipnet.IP.To4(); v4 != nil {
				return v4, nil
			}
		}
	}
	return nil, fmt.Errorf("nat: no non-loopback IPv4 interface found")
}
