package windows

import (
	"context"
	"io"
	"log/slog"

	"github.com/skobkin/hwtelemetry/internal/cache"
	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

const (
	queryTotalMemory  = "SELECT TotalPhysicalMemory FROM Win32_ComputerSystem"
	queryModules      = "SELECT Capacity, ConfiguredClockSpeed, Speed, SMBIOSMemoryType FROM Win32_PhysicalMemory"
	queryArrays       = "SELECT MemoryDevices FROM Win32_PhysicalMemoryArray"
	queryControllers  = "SELECT Name, AdapterCompatibility, AdapterRAM, PNPDeviceID, DeviceID FROM Win32_VideoController"
	queryAdapters     = "SELECT Description, MACAddress, InterfaceIndex, IPAddress, IPSubnet, DefaultIPGateway FROM Win32_NetworkAdapterConfiguration WHERE IPEnabled = TRUE"
	queryEngineCounts = "SELECT Name, UtilizationPercentage FROM Win32_PerfFormattedData_GPUPerformanceCounters_GPUEngine"

	engine3D = "3D"
)

// MemoryService reads memory through WMI.
type MemoryService struct {
	query  QueryFunc
	cache  *cache.File[[]hw.MemoryInfo]
	logger *slog.Logger
}

func NewMemoryService(query QueryFunc, detailCache *cache.File[[]hw.MemoryInfo], logger *slog.Logger) *MemoryService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MemoryService{query: query, cache: detailCache, logger: logger.With("component", "windows_memory")}
}

func (s *MemoryService) MemoryInfo(ctx context.Context) (hw.MemoryInfo, error) {
	rows, err := Query[ComputerSystem](ctx, s.query, "Win32_ComputerSystem", queryTotalMemory)
	if err != nil {
		return hw.MemoryInfo{}, err
	}
	if len(rows) == 0 {
		return hw.MemoryInfo{}, hw.Unparsable("Win32_ComputerSystem", "no rows")
	}
	return hw.CapacityOnly(hw.FormatGigabytes(float64(rows[0].TotalPhysicalMemory) / (1 << 30))), nil
}

func (s *MemoryService) DetailedMemoryInfo(ctx context.Context) ([]hw.MemoryInfo, error) {
	if s.cache != nil {
		if cached, err := s.cache.Read(); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	modules, err := Query[PhysicalMemory](ctx, s.query, "Win32_PhysicalMemory", queryModules)
	if err != nil || len(modules) == 0 {
		s.logger.Debug("physical memory query unavailable, capacity only", "err", err)
		capacity, capErr := s.MemoryInfo(ctx)
		if capErr != nil {
			return nil, capErr
		}
		return []hw.MemoryInfo{capacity}, nil
	}
	arrays, err := Query[PhysicalMemoryArray](ctx, s.query, "Win32_PhysicalMemoryArray", queryArrays)
	if err != nil {
		s.logger.Debug("memory array query failed, slots from modules", "err", err)
	}

	result := []hw.MemoryInfo{SummarizeMemory(modules, arrays)}
	if s.cache != nil {
		if err := s.cache.Write(result); err != nil {
			s.logger.Warn("failed to write memory cache", "path", s.cache.Path(), "err", err)
		}
	}
	return result, nil
}

// GPUService prefers the NVIDIA vendor source and falls back to WMI.
type GPUService struct {
	query  QueryFunc
	nvidia gpu.NvidiaSMI
	logger *slog.Logger

	usage      *gpu.Chain[float64]
	nvidiaList *gpu.Chain[[]hw.GraphicInfo]
}

func NewGPUService(query QueryFunc, nvidia gpu.NvidiaSMI, logger *slog.Logger) *GPUService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &GPUService{query: query, nvidia: nvidia, logger: logger.With("component", "windows_gpu")}

	var usage []gpu.Source[float64]
	var lists []gpu.Source[[]hw.GraphicInfo]
	if nvidia.Runner != nil {
		usage = append(usage, gpu.Source[float64]{Name: "nvidia-smi", Fetch: nvidia.Usage})
		lists = append(lists, gpu.Source[[]hw.GraphicInfo]{Name: "nvidia-smi", Fetch: nvidia.GPUs})
	}
	usage = append(usage, gpu.Source[float64]{Name: "wmi gpu engine", Fetch: s.engineUsage})
	lists = append(lists, gpu.Source[[]hw.GraphicInfo]{Name: "wmi video controller", Fetch: func(ctx context.Context) ([]hw.GraphicInfo, error) {
		return s.controllersByVendor(ctx, "NVIDIA")
	}})
	s.usage = gpu.NewChain("gpu usage", s.logger, usage...)
	s.nvidiaList = gpu.NewChain("nvidia gpus", s.logger, lists...)
	return s
}

func (s *GPUService) GPUUsage(ctx context.Context) (float64, error) {
	usage, _, err := s.usage.Get(ctx)
	return usage, err
}

func (s *GPUService) NvidiaGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	gpus, _, err := s.nvidiaList.Get(ctx)
	return gpus, err
}

func (s *GPUService) AMDGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	return s.controllersByVendor(ctx, "AMD")
}

func (s *GPUService) IntelGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	return s.controllersByVendor(ctx, "Intel")
}

func (s *GPUService) AllGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	return hw.ConcatVendors(ctx, s.NvidiaGPUs, s.AMDGPUs, s.IntelGPUs)
}

// Stats reports per-GPU telemetry from the NVIDIA vendor source; WMI has
// no per-adapter temperature.
func (s *GPUService) Stats(ctx context.Context) ([]gpu.Stat, error) {
	return s.nvidia.Stats(ctx)
}

func (s *GPUService) engineUsage(ctx context.Context) (float64, error) {
	rows, err := Query[GPUEngineCounter](ctx, s.query, "Win32_PerfFormattedData_GPUPerformanceCounters_GPUEngine", queryEngineCounts)
	if err != nil {
		return 0, err
	}
	usage, ok := EngineUsage(rows, engine3D)
	if !ok {
		return 0, hw.Collect("gpu engine counters", hw.ErrNoDevice)
	}
	return usage, nil
}

func (s *GPUService) controllersByVendor(ctx context.Context, vendor string) ([]hw.GraphicInfo, error) {
	rows, err := Query[VideoController](ctx, s.query, "Win32_VideoController", queryControllers)
	if err != nil {
		return nil, err
	}
	out := []hw.GraphicInfo{}
	for _, info := range GraphicsFromControllers(rows) {
		if info.VendorName == vendor {
			out = append(out, info)
		}
	}
	return out, nil
}

// NetworkService reads IP-enabled adapters through WMI.
type NetworkService struct {
	query QueryFunc
}

func NewNetworkService(query QueryFunc) *NetworkService {
	return &NetworkService{query: query}
}

func (s *NetworkService) NetworkInfo(ctx context.Context) ([]hw.NetworkInfo, error) {
	rows, err := Query[NetworkAdapterConfiguration](ctx, s.query, "Win32_NetworkAdapterConfiguration", queryAdapters)
	if err != nil {
		return nil, err
	}
	return NetworkFromAdapters(rows), nil
}
