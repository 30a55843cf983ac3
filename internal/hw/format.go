package hw

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	// Unknown is the neutral value for unparsable text fields.
	Unknown = "Unknown"
	// MHz is the clock unit reported by every provider.
	MHz = "MHz"
)

// FormatGigabytes renders a capacity in GB with one decimal place.
func FormatGigabytes(gb float64) string {
	return fmt.Sprintf("%.1f GB", gb)
}

// FormatKilobytesAsGigabytes converts a kB count (as found in meminfo) to a
// GB string.
func FormatKilobytesAsGigabytes(kb uint64) string {
	return FormatGigabytes(float64(kb) / (1024 * 1024))
}

// FormatBytes renders a byte count for GraphicInfo memory fields. Zero maps
// to Unknown.
func FormatBytes(bytes uint64) string {
	if bytes == 0 {
		return Unknown
	}
	return humanize.IBytes(bytes)
}

// CapacityOnly builds a MemoryInfo that carries only the total size.
func CapacityOnly(size string) MemoryInfo {
	return MemoryInfo{
		Size:       size,
		ClockUnit:  MHz,
		MemoryType: Unknown,
		IsDetailed: false,
	}
}

// VendorName maps a vendor string from any source to a canonical name.
func VendorName(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(lower, "nvidia"), lower == "0x10de", lower == "10de":
		return "NVIDIA"
	case strings.Contains(lower, "intel"), lower == "0x8086", lower == "8086":
		return "Intel"
	case strings.Contains(lower, "amd"), strings.Contains(lower, "advanced micro devices"),
		strings.Contains(lower, "ati technologies"), lower == "0x1002", lower == "1002":
		return "AMD"
	case lower == "":
		return Unknown
	default:
		return strings.TrimSpace(raw)
	}
}
