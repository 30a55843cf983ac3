// Package hw defines the platform-independent hardware capability
// interfaces and the records they produce. Presentation code consumes these
// interfaces and never branches on the operating system.
package hw

import (
	"context"
	"errors"
)

// MemoryInfo describes installed physical memory.
type MemoryInfo struct {
	Size        string `json:"size"`
	Clock       uint32 `json:"clock"`
	ClockUnit   string `json:"clockUnit"`
	MemoryCount int    `json:"memoryCount"`
	TotalSlots  int    `json:"totalSlots"`
	MemoryType  string `json:"memoryType"`
	// IsDetailed is false when only the capacity could be obtained.
	IsDetailed bool `json:"isDetailed"`
}

// GraphicInfo describes one detected GPU. Sizes are pre-formatted.
type GraphicInfo struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	VendorName          string `json:"vendorName"`
	Clock               uint32 `json:"clock"`
	MemorySize          string `json:"memorySize"`
	MemorySizeDedicated string `json:"memorySizeDedicated"`
}

// NetworkInfo describes one usable network interface.
type NetworkInfo struct {
	Description        string   `json:"description"`
	MACAddress         string   `json:"macAddress"`
	IPv4               []string `json:"ipv4"`
	IPv6               []string `json:"ipv6"`
	LinkLocalIPv6      []string `json:"linkLocalIpv6"`
	IPSubnet           []string `json:"ipSubnet"`
	DefaultIPv4Gateway []string `json:"defaultIpv4Gateway"`
	DefaultIPv6Gateway []string `json:"defaultIpv6Gateway"`
}

// MemoryService reports installed memory.
type MemoryService interface {
	// MemoryInfo returns capacity-level information quickly.
	MemoryInfo(ctx context.Context) (MemoryInfo, error)
	// DetailedMemoryInfo returns per-module information when obtainable. It
	// may be slow and may need elevated privileges.
	DetailedMemoryInfo(ctx context.Context) ([]MemoryInfo, error)
}

// GPUService reports graphics adapters. AllGPUs never returns more entries
// than the three vendor-specific calls combined.
type GPUService interface {
	GPUUsage(ctx context.Context) (float64, error)
	NvidiaGPUs(ctx context.Context) ([]GraphicInfo, error)
	AMDGPUs(ctx context.Context) ([]GraphicInfo, error)
	IntelGPUs(ctx context.Context) ([]GraphicInfo, error)
	AllGPUs(ctx context.Context) ([]GraphicInfo, error)
}

// NetworkService reports usable network interfaces.
type NetworkService interface {
	NetworkInfo(ctx context.Context) ([]NetworkInfo, error)
}

// Services produces the capability set for the running platform.
type Services interface {
	Memory() MemoryService
	GPU() GPUService
	Network() NetworkService
}

// Bundle is a plain Services implementation, handy for wiring and tests.
type Bundle struct {
	MemoryService  MemoryService
	GPUService     GPUService
	NetworkService NetworkService
}

func (b Bundle) Memory() MemoryService   { return b.MemoryService }
func (b Bundle) GPU() GPUService         { return b.GPUService }
func (b Bundle) Network() NetworkService { return b.NetworkService }

// VendorLister is one of the vendor-specific GPUService calls.
type VendorLister func(ctx context.Context) ([]GraphicInfo, error)

// ConcatVendors builds AllGPUs from the vendor calls so the result can never
// exceed their sum. A failing vendor is skipped; the call fails only when
// every vendor fails.
func ConcatVendors(ctx context.Context, listers ...VendorLister) ([]GraphicInfo, error) {
	all := []GraphicInfo{}
	var errs []error
	for _, list := range listers {
		gpus, err := list(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, gpus...)
	}
	if len(listers) > 0 && len(errs) == len(listers) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}
