//go:build darwin

package darwin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"github.com/skobkin/hwtelemetry/internal/cache"
	"github.com/skobkin/hwtelemetry/internal/execx"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

// MemoryService reads capacity via sysctl and module detail via
// system_profiler.
type MemoryService struct {
	runner execx.Runner
	cache  *cache.File[[]hw.MemoryInfo]
	logger *slog.Logger
}

// NewMemoryService constructs the service. A nil detailCache disables
// caching.
func NewMemoryService(runner execx.Runner, detailCache *cache.File[[]hw.MemoryInfo], logger *slog.Logger) *MemoryService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MemoryService{runner: runner, cache: detailCache, logger: logger.With("component", "darwin_memory")}
}

func (s *MemoryService) MemoryInfo(context.Context) (hw.MemoryInfo, error) {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return hw.MemoryInfo{}, hw.Collect("sysctl hw.memsize", err)
	}
	return hw.CapacityOnly(hw.FormatGigabytes(float64(total) / (1 << 30))), nil
}

func (s *MemoryService) DetailedMemoryInfo(ctx context.Context) ([]hw.MemoryInfo, error) {
	if s.cache != nil {
		if cached, err := s.cache.Read(); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	capacity, err := s.MemoryInfo(ctx)
	if err != nil {
		return nil, err
	}
	if s.runner == nil {
		return []hw.MemoryInfo{capacity}, nil
	}

	out, err := s.runner.Run(ctx, "system_profiler", "SPMemoryDataType", "-json")
	if err != nil {
		s.logger.Debug("system_profiler failed, capacity only", "err", err)
		return []hw.MemoryInfo{capacity}, nil
	}
	info, err := ParseMemoryProfile(out, capacity.Size)
	if err != nil {
		s.logger.Debug("system_profiler output unparsable, capacity only", "err", err)
		return []hw.MemoryInfo{capacity}, nil
	}

	result := []hw.MemoryInfo{info}
	if info.IsDetailed && s.cache != nil {
		if err := s.cache.Write(result); err != nil {
			s.logger.Warn("failed to write memory cache", "path", s.cache.Path(), "err", err)
		}
	}
	return result, nil
}

// GPUService lists adapters from system_profiler. macOS offers no vendor
// usage counters to unprivileged callers.
type GPUService struct {
	runner execx.Runner
}

func NewGPUService(runner execx.Runner) *GPUService {
	return &GPUService{runner: runner}
}

func (s *GPUService) GPUUsage(context.Context) (float64, error) {
	return 0, hw.Collect("gpu usage", hw.ErrNoDevice)
}

func (s *GPUService) NvidiaGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	return s.byVendor(ctx, "NVIDIA")
}

func (s *GPUService) AMDGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	return s.byVendor(ctx, "AMD")
}

func (s *GPUService) IntelGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	return s.byVendor(ctx, "Intel")
}

// AllGPUs returns only adapters of the three known vendors, so Apple GPUs
// are not listed.
func (s *GPUService) AllGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	displays, err := s.displays(ctx)
	if err != nil {
		return nil, err
	}
	out := []hw.GraphicInfo{}
	for _, d := range displays {
		switch d.VendorName {
		case "NVIDIA", "AMD", "Intel":
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *GPUService) byVendor(ctx context.Context, vendor string) ([]hw.GraphicInfo, error) {
	displays, err := s.displays(ctx)
	if err != nil {
		return nil, err
	}
	out := []hw.GraphicInfo{}
	for _, d := range displays {
		if d.VendorName == vendor {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *GPUService) displays(ctx context.Context) ([]hw.GraphicInfo, error) {
	if s.runner == nil {
		return nil, hw.Collect("system_profiler", errors.New("no command runner"))
	}
	out, err := s.runner.Run(ctx, "system_profiler", "SPDisplaysDataType", "-json")
	if err != nil {
		return nil, hw.Collect("system_profiler", err)
	}
	return ParseDisplays(out)
}

// NetworkService enumerates interfaces and reads default routes from the
// kernel routing table.
type NetworkService struct {
	logger *slog.Logger
}

func NewNetworkService(logger *slog.Logger) *NetworkService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NetworkService{logger: logger.With("component", "darwin_network")}
}

func (s *NetworkService) NetworkInfo(context.Context) ([]hw.NetworkInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, hw.Collect("interfaces", err)
	}

	facts := make([]hw.InterfaceFacts, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			s.logger.Debug("failed to list interface addresses", "iface", iface.Name, "err", err)
			continue
		}
		facts = append(facts, InterfaceFacts(iface, addrs))
	}

	var gateways []hw.Gateway
	for _, af := range []int{syscall.AF_INET, syscall.AF_INET6} {
		rib, err := route.FetchRIB(af, route.RIBTypeRoute, 0)
		if err != nil {
			s.logger.Debug("routing table dump failed", "af", af, "err", err)
			continue
		}
		routes, err := ParseRouteMessages(rib, KernelAlign)
		if err != nil {
			s.logger.Debug("routing table partially decoded", "af", af, "err", err)
		}
		gateways = append(gateways, DefaultGateways(routes)...)
	}

	return hw.BuildNetworkInfo(facts, gateways), nil
}
