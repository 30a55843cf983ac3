// Package darwin implements the hardware capability interfaces for macOS.
// Decoding of kernel and helper output lives in files without build tags so
// it can be tested anywhere; only the calls into the OS are darwin-only.
package darwin

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

// Layout of struct rt_msghdr and sockaddr records from <net/route.h>.
const (
	rtMsghdrLen = 92

	rtfGateway = 0x2

	rtaDst     = 0x1
	rtaGateway = 0x2
	rtaNetmask = 0x4
	rtaMax     = 8

	afInet  = 2
	afInet6 = 30

	// KernelAlign is the boundary sockaddr records are padded to inside a
	// routing message on macOS.
	KernelAlign = 4
)

// RouteFacts is one decoded routing message. Only owned values escape the
// decoder.
type RouteFacts struct {
	Type    uint8
	IfIndex int
	Flags   int
	Dst     netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr
}

// IsDefault reports whether the route is a default gateway: unspecified
// destination and netmask with the gateway flag set. A message without a
// netmask record is a host route and never a default one.
func (r RouteFacts) IsDefault() bool {
	if r.Flags&rtfGateway == 0 || !r.Gateway.IsValid() {
		return false
	}
	if !r.Dst.IsValid() || !r.Dst.IsUnspecified() {
		return false
	}
	return r.Netmask.IsValid() && r.Netmask.IsUnspecified()
}

// ParseRouteMessages decodes a routing table dump as returned by
// sysctl(NET_RT_DUMP). Each sockaddr record is advanced by its length
// rounded up to align bytes; a zero-length record still occupies align
// bytes. Truncated messages stop the walk with an error.
func ParseRouteMessages(buf []byte, align int) ([]RouteFacts, error) {
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("invalid alignment %d", align)
	}
	order := binary.NativeEndian

	var out []RouteFacts
	for len(buf) >= 4 {
		msgLen := int(order.Uint16(buf[0:2]))
		if msgLen == 0 || msgLen > len(buf) {
			return out, hw.Unparsable("routing table", fmt.Sprintf("message length %d exceeds %d remaining bytes", msgLen, len(buf)))
		}
		msg := buf[:msgLen]
		buf = buf[msgLen:]
		if msgLen < rtMsghdrLen {
			continue
		}

		facts := RouteFacts{
			Type:    msg[3],
			IfIndex: int(order.Uint16(msg[4:6])),
			Flags:   int(int32(order.Uint32(msg[8:12]))),
		}
		addrs := int(int32(order.Uint32(msg[12:16])))

		var dstFamily byte
		rest := msg[rtMsghdrLen:]
		for i := 0; i < rtaMax; i++ {
			bit := 1 << i
			if addrs&bit == 0 {
				continue
			}
			if len(rest) == 0 {
				break
			}
			saLen := int(rest[0])
			step := roundup(saLen, align)
			if step > len(rest) {
				return out, hw.Unparsable("routing table", "sockaddr overruns message")
			}
			sa := rest[:saLen]
			rest = rest[step:]

			switch bit {
			case rtaDst:
				facts.Dst, dstFamily = decodeSockaddr(sa)
			case rtaGateway:
				facts.Gateway, _ = decodeSockaddr(sa)
			case rtaNetmask:
				facts.Netmask = decodeNetmask(sa, dstFamily)
			}
		}
		out = append(out, facts)
	}
	return out, nil
}

// DefaultGateways keeps default routes and ties them to the interface index
// from the message header.
func DefaultGateways(routes []RouteFacts) []hw.Gateway {
	var out []hw.Gateway
	for _, route := range routes {
		if !route.IsDefault() {
			continue
		}
		out = append(out, hw.Gateway{IfIndex: route.IfIndex, Addr: route.Gateway})
	}
	return out
}

func roundup(length, align int) int {
	if length == 0 {
		return align
	}
	return (length + align - 1) &^ (align - 1)
}

func decodeSockaddr(sa []byte) (netip.Addr, byte) {
	if len(sa) < 2 {
		return netip.Addr{}, 0
	}
	family := sa[1]
	switch family {
	case afInet:
		if len(sa) < 8 {
			return netip.Addr{}, family
		}
		return netip.AddrFrom4([4]byte(sa[4:8])), family
	case afInet6:
		if len(sa) < 24 {
			return netip.Addr{}, family
		}
		raw := [16]byte(sa[8:24])
		addr := netip.AddrFrom16(raw)
		if addr.IsLinkLocalUnicast() {
			// The kernel embeds the scope id in bytes 2-3 of link-local
			// addresses.
			raw[2], raw[3] = 0, 0
			addr = netip.AddrFrom16(raw)
		}
		return addr, family
	default:
		return netip.Addr{}, family
	}
}

// decodeNetmask handles the kernel's truncated masks, whose length covers
// only the non-zero bytes and whose family byte is often unset.
func decodeNetmask(sa []byte, dstFamily byte) netip.Addr {
	switch dstFamily {
	case afInet:
		var raw [4]byte
		if len(sa) > 4 {
			copy(raw[:], sa[4:])
		}
		return netip.AddrFrom4(raw)
	case afInet6:
		var raw [16]byte
		if len(sa) > 8 {
			copy(raw[:], sa[8:])
		}
		return netip.AddrFrom16(raw)
	default:
		return netip.Addr{}
	}
}
