package windows

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

// Row types for the WMI classes queried below. Field names must match the
// WMI property names.

type ComputerSystem struct {
	TotalPhysicalMemory uint64
}

type PhysicalMemory struct {
	Capacity             uint64
	ConfiguredClockSpeed uint32
	Speed                uint32
	SMBIOSMemoryType     uint32
}

type PhysicalMemoryArray struct {
	MemoryDevices uint32
}

type VideoController struct {
	Name                 string
	AdapterCompatibility string
	AdapterRAM           uint32
	PNPDeviceID          string
	DeviceID             string
}

type NetworkAdapterConfiguration struct {
	Description      string
	MACAddress       string
	InterfaceIndex   uint32
	IPAddress        []string
	IPSubnet         []string
	DefaultIPGateway []string
}

type GPUEngineCounter struct {
	Name                  string
	UtilizationPercentage uint64
}

var engineTypePattern = regexp.MustCompile(`engtype_(\w+)`)

// EngineUsage returns the utilization of the first counter row whose engine
// type token equals engine, e.g. "3D".
func EngineUsage(rows []GPUEngineCounter, engine string) (float64, bool) {
	for _, row := range rows {
		match := engineTypePattern.FindStringSubmatch(row.Name)
		if match == nil || match[1] != engine {
			continue
		}
		return float64(row.UtilizationPercentage), true
	}
	return 0, false
}

// smbiosMemoryTypes maps SMBIOS type 17 memory type codes.
var smbiosMemoryTypes = map[uint32]string{
	18: "DDR",
	19: "DDR2",
	20: "DDR",
	21: "DDR2",
	22: "DDR2 FB-DIMM",
	24: "DDR3",
	26: "DDR4",
	27: "LPDDR",
	28: "LPDDR2",
	29: "LPDDR3",
	30: "LPDDR4",
	34: "DDR5",
	35: "LPDDR5",
}

// MemoryTypeName maps an SMBIOS code to a technology name.
func MemoryTypeName(code uint32) string {
	if name, ok := smbiosMemoryTypes[code]; ok {
		return name
	}
	return hw.Unknown
}

// SummarizeMemory folds module and array rows into one MemoryInfo. The clock
// is the first non-zero configured speed, falling back to the rated speed.
func SummarizeMemory(modules []PhysicalMemory, arrays []PhysicalMemoryArray) hw.MemoryInfo {
	var (
		total      uint64
		count      int
		clock      uint32
		memoryType = hw.Unknown
	)
	for _, module := range modules {
		if module.Capacity == 0 {
			continue
		}
		total += module.Capacity
		count++
		if clock == 0 {
			clock = module.ConfiguredClockSpeed
			if clock == 0 {
				clock = module.Speed
			}
		}
		if memoryType == hw.Unknown {
			memoryType = MemoryTypeName(module.SMBIOSMemoryType)
		}
	}

	slots := 0
	for _, array := range arrays {
		slots += int(array.MemoryDevices)
	}
	if slots < count {
		slots = count
	}

	return hw.MemoryInfo{
		Size:        hw.FormatGigabytes(float64(total) / (1 << 30)),
		Clock:       clock,
		ClockUnit:   hw.MHz,
		MemoryCount: count,
		TotalSlots:  slots,
		MemoryType:  memoryType,
		IsDetailed:  true,
	}
}

// GraphicsFromControllers converts video controller rows. Generic adapter
// names are replaced with the PCI database name when the PnP id resolves.
func GraphicsFromControllers(rows []VideoController) []hw.GraphicInfo {
	out := make([]hw.GraphicInfo, 0, len(rows))
	for _, row := range rows {
		name := gpu.PreferResolved(strings.TrimSpace(row.Name), gpu.ResolvePNPName(row.PNPDeviceID))
		if name == "" {
			name = hw.Unknown
		}
		out = append(out, hw.GraphicInfo{
			ID:                  row.DeviceID,
			Name:                name,
			VendorName:          hw.VendorName(row.AdapterCompatibility),
			MemorySize:          hw.Unknown,
			MemorySizeDedicated: hw.FormatBytes(uint64(row.AdapterRAM)),
		})
	}
	return out
}

// NetworkFromAdapters converts IP-enabled adapter configurations. Subnets
// come paired with addresses: dotted masks for IPv4, prefix lengths for
// IPv6.
func NetworkFromAdapters(rows []NetworkAdapterConfiguration) []hw.NetworkInfo {
	facts := make([]hw.InterfaceFacts, 0, len(rows))
	var gateways []hw.Gateway
	for _, row := range rows {
		index := int(row.InterfaceIndex)
		iface := hw.InterfaceFacts{
			Index:       index,
			Name:        row.Description,
			Description: row.Description,
			MAC:         strings.ToLower(row.MACAddress),
			Up:          true,
			Running:     true,
		}
		for i, raw := range row.IPAddress {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				continue
			}
			addr = addr.WithZone("")
			bits := addr.BitLen()
			if i < len(row.IPSubnet) {
				bits = subnetBits(row.IPSubnet[i], addr.BitLen())
			}
			iface.Addrs = append(iface.Addrs, netip.PrefixFrom(addr, bits))
		}
		facts = append(facts, iface)

		for _, raw := range row.DefaultIPGateway {
			if addr, err := netip.ParseAddr(raw); err == nil {
				gateways = append(gateways, hw.Gateway{IfIndex: index, Addr: addr})
			}
		}
	}
	return hw.BuildNetworkInfo(facts, gateways)
}

func subnetBits(subnet string, fallback int) int {
	if bits, err := strconv.Atoi(subnet); err == nil {
		return bits
	}
	mask, err := netip.ParseAddr(subnet)
	if err != nil {
		return fallback
	}
	return hw.PrefixLength(mask.AsSlice())
}
