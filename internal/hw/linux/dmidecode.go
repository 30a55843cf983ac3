package linux

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

const memoryDeviceHeader = "Memory Device"

// ParseDMIDecode summarizes `dmidecode -t memory` output. Only "Memory
// Device" blocks are considered. Every block counts as a slot; only blocks
// with a non-zero size count as installed modules. Lines that do not parse
// leave the corresponding field at its neutral value.
func ParseDMIDecode(data []byte) hw.MemoryInfo {
	var (
		totalGB    float64
		modules    int
		slots      int
		memoryType string
		clock      uint32
		inDevice   bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)

		// Block headers start at column zero; properties are indented.
		if raw != "" && raw[0] != '\t' && raw[0] != ' ' {
			inDevice = line == memoryDeviceHeader
			if inDevice {
				slots++
			}
			continue
		}
		if !inDevice {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "Size":
			if gb, ok := parseModuleSize(value); ok {
				totalGB += gb
				modules++
			}
		case "Type":
			if memoryType == "" && value != "" && value != hw.Unknown && value != "RAM" {
				memoryType = value
			}
		case "Configured Memory Speed":
			if clock == 0 {
				clock = parseTransferRate(value) / 2
			}
		}
	}

	info := hw.MemoryInfo{
		Size:        hw.FormatGigabytes(totalGB),
		Clock:       clock,
		ClockUnit:   hw.MHz,
		MemoryCount: modules,
		TotalSlots:  slots,
		MemoryType:  memoryType,
		IsDetailed:  true,
	}
	if info.MemoryType == "" {
		info.MemoryType = hw.Unknown
	}
	return info
}

// parseModuleSize accepts "16 GB", "8192 MB" and rejects zero or
// "No Module Installed".
func parseModuleSize(value string) (float64, bool) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, false
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch fields[1] {
	case "GB":
		return n, true
	case "MB":
		return n / 1024, true
	case "TB":
		return n * 1024, true
	default:
		return 0, false
	}
}

// parseTransferRate reads "3200 MT/s". Anything else yields zero.
func parseTransferRate(value string) uint32 {
	fields := strings.Fields(value)
	if len(fields) != 2 || fields[1] != "MT/s" {
		return 0
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// ParseMemTotal finds the first line starting with "MemTotal:" in meminfo
// and returns its value in kB.
func ParseMemTotal(data []byte) (uint64, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "MemTotal:"))
		if len(fields) == 0 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb, true
	}
	return 0, false
}
