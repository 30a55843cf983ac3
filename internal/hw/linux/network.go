package linux

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

// rtfGateway is RTF_GATEWAY from linux/route.h.
const rtfGateway = 0x0002

// RouteEntry is a default route found in procfs, keyed by interface name.
type RouteEntry struct {
	IfName  string
	Gateway netip.Addr
}

// InterfaceLister returns the interfaces as gopsutil reports them.
type InterfaceLister func(ctx context.Context) (gnet.InterfaceStatList, error)

// NetworkService combines gopsutil interfaces with procfs default routes.
// gopsutil has no running flag, so operational state comes from sysfs.
type NetworkService struct {
	procRoot   string
	sysfsRoot  string
	interfaces InterfaceLister
	logger     *slog.Logger
}

// NewNetworkService constructs the service. A nil lister uses gopsutil.
func NewNetworkService(procRoot, sysfsRoot string, lister InterfaceLister, logger *slog.Logger) *NetworkService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if procRoot == "" {
		procRoot = "/proc"
	}
	if sysfsRoot == "" {
		sysfsRoot = "/sys"
	}
	if lister == nil {
		lister = gnet.InterfacesWithContext
	}
	return &NetworkService{
		procRoot:   procRoot,
		sysfsRoot:  sysfsRoot,
		interfaces: lister,
		logger:     logger.With("component", "linux_network"),
	}
}

// NetworkInfo lists usable interfaces with their default gateways.
func (s *NetworkService) NetworkInfo(ctx context.Context) ([]hw.NetworkInfo, error) {
	stats, err := s.interfaces(ctx)
	if err != nil {
		return nil, hw.Collect("interfaces", err)
	}

	facts := make([]hw.InterfaceFacts, 0, len(stats))
	indexByName := make(map[string]int, len(stats))
	for _, stat := range stats {
		facts = append(facts, factsFromStat(stat, s.running(stat)))
		indexByName[stat.Name] = stat.Index
	}

	var routes []RouteEntry
	if data, err := os.ReadFile(filepath.Join(s.procRoot, "net", "route")); err == nil {
		routes = append(routes, ParseIPv4Routes(data)...)
	} else {
		s.logger.Debug("ipv4 route table unavailable", "err", err)
	}
	if data, err := os.ReadFile(filepath.Join(s.procRoot, "net", "ipv6_route")); err == nil {
		routes = append(routes, ParseIPv6Routes(data)...)
	} else {
		s.logger.Debug("ipv6 route table unavailable", "err", err)
	}

	gateways := make([]hw.Gateway, 0, len(routes))
	for _, route := range routes {
		index, ok := indexByName[route.IfName]
		if !ok {
			continue
		}
		gateways = append(gateways, hw.Gateway{IfIndex: index, Addr: route.Gateway})
	}

	return hw.BuildNetworkInfo(facts, gateways), nil
}

// running reads /sys/class/net/<name>/operstate and falls back to the
// kernel IFF_RUNNING flag when sysfs is unavailable.
func (s *NetworkService) running(stat gnet.InterfaceStat) bool {
	data, err := os.ReadFile(filepath.Join(s.sysfsRoot, "class", "net", stat.Name, "operstate"))
	if err == nil {
		return RunningFromOperState(string(data))
	}
	iface, err := net.InterfaceByIndex(stat.Index)
	if err != nil {
		s.logger.Debug("operational state unavailable", "iface", stat.Name, "err", err)
		return false
	}
	return iface.Flags&net.FlagRunning != 0
}

// RunningFromOperState maps an RFC 2863 operstate to IFF_RUNNING. The kernel
// reports "unknown" for drivers without carrier tracking, which still pass
// traffic.
func RunningFromOperState(state string) bool {
	switch strings.TrimSpace(state) {
	case "up", "unknown":
		return true
	default:
		return false
	}
}

func factsFromStat(stat gnet.InterfaceStat, running bool) hw.InterfaceFacts {
	facts := hw.InterfaceFacts{
		Index:       stat.Index,
		Name:        stat.Name,
		Description: stat.Name,
		MAC:         stat.HardwareAddr,
		Running:     running,
	}
	for _, flag := range stat.Flags {
		switch flag {
		case "up":
			facts.Up = true
		case "loopback":
			facts.Loopback = true
		}
	}
	for _, addr := range stat.Addrs {
		prefix, err := netip.ParsePrefix(addr.Addr)
		if err != nil {
			continue
		}
		facts.Addrs = append(facts.Addrs, prefix)
	}
	return facts
}

// ParseIPv4Routes returns default routes from /proc/net/route. Addresses
// there are little-endian hex.
func ParseIPv4Routes(data []byte) []RouteEntry {
	var out []RouteEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] == "Iface" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&rtfGateway == 0 {
			continue
		}
		if fields[1] != "00000000" || fields[7] != "00000000" {
			continue
		}
		raw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}
		var octets [4]byte
		binary.LittleEndian.PutUint32(octets[:], uint32(raw))
		gw := netip.AddrFrom4(octets)
		if gw.IsUnspecified() {
			continue
		}
		out = append(out, RouteEntry{IfName: fields[0], Gateway: gw})
	}
	return out
}

// ParseIPv6Routes returns default routes from /proc/net/ipv6_route.
func ParseIPv6Routes(data []byte) []RouteEntry {
	var out []RouteEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		dest, ok := parseHex16(fields[0])
		if !ok || !dest.IsUnspecified() || fields[1] != "00" {
			continue
		}
		flags, err := strconv.ParseUint(fields[8], 16, 32)
		if err != nil || flags&rtfGateway == 0 {
			continue
		}
		gw, ok := parseHex16(fields[4])
		if !ok || gw.IsUnspecified() {
			continue
		}
		out = append(out, RouteEntry{IfName: fields[9], Gateway: gw})
	}
	return out
}

func parseHex16(value string) (netip.Addr, bool) {
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != 16 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom16([16]byte(raw)), true
}
