package darwin

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

type memoryReport struct {
	Entries []memoryEntry `json:"SPMemoryDataType"`
}

type memoryEntry struct {
	Name  string       `json:"_name"`
	Items []memoryItem `json:"_items"`
	// Apple silicon reports unified memory on the entry itself.
	Size string `json:"SPMemoryDataType"`
	Type string `json:"dimm_type"`
}

type memoryItem struct {
	Name  string `json:"_name"`
	Size  string `json:"dimm_size"`
	Speed string `json:"dimm_speed"`
	Type  string `json:"dimm_type"`
}

// ParseMemoryProfile reads `system_profiler SPMemoryDataType -json` output.
// Missing fields keep their neutral values; IsDetailed is set only when at
// least one of type, clock or slot data was found. size is the capacity
// obtained from sysctl.
func ParseMemoryProfile(data []byte, size string) (hw.MemoryInfo, error) {
	var report memoryReport
	if err := json.Unmarshal(data, &report); err != nil {
		return hw.MemoryInfo{}, hw.Unparsable("system_profiler", err.Error())
	}

	info := hw.CapacityOnly(size)
	var memoryType string
	for _, entry := range report.Entries {
		if memoryType == "" && usable(entry.Type) {
			memoryType = entry.Type
		}
		for _, item := range entry.Items {
			info.TotalSlots++
			if usable(item.Size) {
				info.MemoryCount++
			}
			if memoryType == "" && usable(item.Type) {
				memoryType = item.Type
			}
			if info.Clock == 0 {
				info.Clock = parseMHz(item.Speed)
			}
		}
		if len(entry.Items) == 0 && usable(entry.Size) {
			info.MemoryCount++
		}
	}

	if memoryType != "" {
		info.MemoryType = memoryType
	}
	info.IsDetailed = memoryType != "" || info.Clock != 0 || info.TotalSlots != 0
	return info, nil
}

type displaysReport struct {
	Entries []displayEntry `json:"SPDisplaysDataType"`
}

type displayEntry struct {
	Name       string `json:"_name"`
	Model      string `json:"sppci_model"`
	Vendor     string `json:"spdisplays_vendor"`
	VendorID   string `json:"spdisplays_vendor-id"`
	DeviceID   string `json:"spdisplays_device-id"`
	VRAM       string `json:"spdisplays_vram"`
	VRAMShared string `json:"spdisplays_vram_shared"`
	Bus        string `json:"sppci_bus"`
}

// ParseDisplays reads `system_profiler SPDisplaysDataType -json` output.
func ParseDisplays(data []byte) ([]hw.GraphicInfo, error) {
	var report displaysReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, hw.Unparsable("system_profiler", err.Error())
	}

	out := make([]hw.GraphicInfo, 0, len(report.Entries))
	for i, entry := range report.Entries {
		name := entry.Model
		if name == "" {
			name = entry.Name
		}
		vendor := entry.Vendor
		if vendor == "" {
			vendor = entry.VendorID
		}
		// Values look like "sppci_vendor_amd" or "NVIDIA (0x10de)".
		vendor = strings.TrimPrefix(vendor, "sppci_vendor_")
		info := hw.GraphicInfo{
			ID:                  strconv.Itoa(i),
			Name:                name,
			VendorName:          hw.VendorName(vendor),
			MemorySize:          hw.Unknown,
			MemorySizeDedicated: hw.Unknown,
		}
		if usable(entry.VRAM) {
			info.MemorySizeDedicated = entry.VRAM
		}
		if usable(entry.VRAMShared) {
			info.MemorySize = entry.VRAMShared
		}
		if info.Name == "" {
			info.Name = hw.Unknown
		}
		out = append(out, info)
	}
	return out, nil
}

func usable(value string) bool {
	value = strings.TrimSpace(value)
	return value != "" && !strings.EqualFold(value, "empty") && !strings.EqualFold(value, hw.Unknown)
}

// parseMHz reads "2667 MHz" style values.
func parseMHz(value string) uint32 {
	fields := strings.Fields(value)
	if len(fields) != 2 || !strings.EqualFold(fields[1], "MHz") {
		return 0
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
