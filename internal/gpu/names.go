package gpu

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
	pciErr  error
)

// ResolveName looks up a marketing name for the PCI ids, preferring the
// subsystem entry when one matches. It returns "" when the database or the
// product is unavailable.
func ResolveName(vendorID, deviceID, subVendorID, subDeviceID string) string {
	return lookupGPUName(vendorID, deviceID, subVendorID, subDeviceID)
}

// ResolvePNPName resolves a Windows PnP device id such as
// `PCI\VEN_10DE&DEV_2684&SUBSYS_16F310DE&REV_A1`.
func ResolvePNPName(pnpID string) string {
	vendorID, deviceID, subVendorID, subDeviceID := parsePNPDeviceID(pnpID)
	return lookupGPUName(vendorID, deviceID, subVendorID, subDeviceID)
}

// PreferResolved picks resolved over current when current is a driver name
// or a generic placeholder.
func PreferResolved(current, resolved string) string {
	if shouldUseResolvedName(current, resolved) {
		return resolved
	}
	return current
}

func lookupGPUName(vendorID, deviceID, subVendorID, subDeviceID string) string {
	vendorID = normalizePCIID(vendorID)
	deviceID = normalizePCIID(deviceID)
	if vendorID == "" || deviceID == "" {
		return ""
	}

	db := loadPCIDatabase()
	if db == nil {
		return ""
	}

	product, ok := db.Products[vendorID+deviceID]
	if !ok || product == nil {
		return ""
	}

	subVendorID = normalizePCIID(subVendorID)
	subDeviceID = normalizePCIID(subDeviceID)
	if subVendorID != "" && subDeviceID != "" {
		for _, subsystem := range product.Subsystems {
			if subsystem == nil || subsystem.Name == "" {
				continue
			}
			if strings.EqualFold(subsystem.VendorID, subVendorID) && strings.EqualFold(subsystem.ID, subDeviceID) {
				return subsystem.Name
			}
		}
	}

	return product.Name
}

func loadPCIDatabase() *pcidb.PCIDB {
	pciOnce.Do(func() {
		pciDB, pciErr = pcidb.New()
	})
	if pciErr != nil || pciDB == nil {
		return nil
	}
	return pciDB
}

func parsePNPDeviceID(pnpID string) (vendorID, deviceID, subVendorID, subDeviceID string) {
	upper := strings.ToUpper(pnpID)
	upper = strings.TrimPrefix(upper, `PCI\`)
	for _, part := range strings.Split(upper, "&") {
		switch {
		case strings.HasPrefix(part, "VEN_"):
			vendorID = strings.TrimPrefix(part, "VEN_")
		case strings.HasPrefix(part, "DEV_"):
			deviceID = strings.TrimPrefix(part, "DEV_")
		case strings.HasPrefix(part, "SUBSYS_"):
			// SUBSYS_ssssvvvv: subsystem device then subsystem vendor.
			subsys := strings.TrimPrefix(part, "SUBSYS_")
			if len(subsys) == 8 {
				subDeviceID = subsys[:4]
				subVendorID = subsys[4:]
			}
		}
	}
	return vendorID, deviceID, subVendorID, subDeviceID
}

func normalizePCIID(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "0X")
	if value == "" {
		return ""
	}
	value = strings.ToLower(value)
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

func splitPCIIdentifier(pciID string) (vendorID string, deviceID string) {
	parts := strings.SplitN(pciID, ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func shouldUseResolvedName(current, resolved string) bool {
	if resolved == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(current))
	switch lower {
	case "", "amdgpu", "radeon", "i915", "xe", "nouveau", "nvidia", "unknown", "microsoft basic display adapter":
		return true
	}
	return strings.HasPrefix(lower, "pci device") || strings.HasPrefix(lower, "0x")
}
