package hw

import (
	"net/netip"
	"sort"
)

// InterfaceFacts is the platform-neutral view of one interface as reported
// by the OS, before filtering.
type InterfaceFacts struct {
	Index       int
	Name        string
	Description string
	MAC         string
	Up          bool
	Running     bool
	Loopback    bool
	Addrs       []netip.Prefix
}

// Gateway is a default route attached to an interface index.
type Gateway struct {
	IfIndex int
	Addr    netip.Addr
}

// BuildNetworkInfo classifies addresses and drops interfaces that carry no
// usable routing information: down, not running, loopback, or with neither
// an IPv4 nor a global IPv6 address.
func BuildNetworkInfo(ifaces []InterfaceFacts, gateways []Gateway) []NetworkInfo {
	byIndex := make(map[int][]netip.Addr)
	for _, gw := range gateways {
		if !gw.Addr.IsValid() {
			continue
		}
		byIndex[gw.IfIndex] = append(byIndex[gw.IfIndex], gw.Addr)
	}

	sorted := make([]InterfaceFacts, len(ifaces))
	copy(sorted, ifaces)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([]NetworkInfo, 0, len(sorted))
	for _, iface := range sorted {
		if !iface.Up || !iface.Running || iface.Loopback {
			continue
		}

		info := NetworkInfo{
			Description:        iface.Description,
			MACAddress:         iface.MAC,
			IPv4:               []string{},
			IPv6:               []string{},
			LinkLocalIPv6:      []string{},
			IPSubnet:           []string{},
			DefaultIPv4Gateway: []string{},
			DefaultIPv6Gateway: []string{},
		}
		if info.Description == "" {
			info.Description = iface.Name
		}

		for _, prefix := range iface.Addrs {
			addr := prefix.Addr().Unmap()
			switch {
			case !addr.IsValid(), addr.IsUnspecified(), addr.IsLoopback():
				continue
			case addr.Is4():
				info.IPv4 = append(info.IPv4, addr.String())
				info.IPSubnet = appendUnique(info.IPSubnet, netip.PrefixFrom(addr, prefix.Bits()).Masked().String())
			case addr.IsLinkLocalUnicast():
				info.LinkLocalIPv6 = append(info.LinkLocalIPv6, addr.String())
			case addr.IsGlobalUnicast():
				info.IPv6 = append(info.IPv6, addr.String())
				info.IPSubnet = appendUnique(info.IPSubnet, netip.PrefixFrom(addr, prefix.Bits()).Masked().String())
			}
		}

		if len(info.IPv4) == 0 && len(info.IPv6) == 0 {
			continue
		}

		for _, gw := range byIndex[iface.Index] {
			gw = gw.Unmap()
			if gw.Is4() {
				info.DefaultIPv4Gateway = appendUnique(info.DefaultIPv4Gateway, gw.String())
			} else {
				info.DefaultIPv6Gateway = appendUnique(info.DefaultIPv6Gateway, gw.String())
			}
		}

		out = append(out, info)
	}
	return out
}

// PrefixLength counts the set bits of a netmask.
func PrefixLength(mask []byte) int {
	bits := 0
	for _, b := range mask {
		for b != 0 {
			bits += int(b & 1)
			b >>= 1
		}
	}
	return bits
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
