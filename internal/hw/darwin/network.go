package darwin

import (
	"net"
	"net/netip"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

// InterfaceFacts converts one interface and its addresses as returned by
// the interface-address API.
func InterfaceFacts(iface net.Interface, addrs []net.Addr) hw.InterfaceFacts {
	facts := hw.InterfaceFacts{
		Index:       iface.Index,
		Name:        iface.Name,
		Description: iface.Name,
		MAC:         iface.HardwareAddr.String(),
		Up:          iface.Flags&net.FlagUp != 0,
		Running:     iface.Flags&net.FlagRunning != 0,
		Loopback:    iface.Flags&net.FlagLoopback != 0,
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		facts.Addrs = append(facts.Addrs, netip.PrefixFrom(ip, hw.PrefixLength(ipNet.Mask)))
	}
	return facts
}
