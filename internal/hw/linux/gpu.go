package linux

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

// GPUService enumerates DRM cards and reads vendor-specific telemetry.
type GPUService struct {
	sysfsRoot   string
	debugfsRoot string
	nvidia      gpu.NvidiaSMI
	intel       gpu.IntelGPUTop
	logger      *slog.Logger

	usage *gpu.Chain[float64]

	mu      sync.Mutex
	readers map[string]*gpu.Reader
}

// GPUConfig wires the vendor sources used by GPUService.
type GPUConfig struct {
	SysfsRoot   string
	DebugfsRoot string
	Nvidia      gpu.NvidiaSMI
	Intel       gpu.IntelGPUTop
}

// NewGPUService constructs the service.
func NewGPUService(cfg GPUConfig, logger *slog.Logger) *GPUService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys"
	}
	if cfg.DebugfsRoot == "" {
		cfg.DebugfsRoot = "/sys/kernel/debug"
	}
	s := &GPUService{
		sysfsRoot:   cfg.SysfsRoot,
		debugfsRoot: cfg.DebugfsRoot,
		nvidia:      cfg.Nvidia,
		intel:       cfg.Intel,
		logger:      logger.With("component", "linux_gpu"),
		readers:     make(map[string]*gpu.Reader),
	}

	var sources []gpu.Source[float64]
	if cfg.Nvidia.Runner != nil {
		sources = append(sources, gpu.Source[float64]{Name: "nvidia-smi", Fetch: cfg.Nvidia.Usage})
	}
	sources = append(sources, gpu.Source[float64]{Name: "gpu_busy_percent", Fetch: s.amdUsage})
	if cfg.Intel.Streamer != nil {
		sources = append(sources, gpu.Source[float64]{Name: "intel_gpu_top", Fetch: s.intelUsage})
	}
	s.usage = gpu.NewChain("gpu usage", s.logger, sources...)
	return s
}

// GPUUsage returns the first usage value any vendor source reports.
func (s *GPUService) GPUUsage(ctx context.Context) (float64, error) {
	usage, _, err := s.usage.Get(ctx)
	return usage, err
}

// NvidiaGPUs prefers nvidia-smi and falls back to the sysfs cards.
func (s *GPUService) NvidiaGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	if s.nvidia.Runner != nil {
		gpus, err := s.nvidia.GPUs(ctx)
		if err == nil {
			return gpus, nil
		}
		s.logger.Debug("nvidia-smi unavailable, using sysfs", "err", err)
	}
	return s.cardsByVendor(gpu.VendorNvidia)
}

func (s *GPUService) AMDGPUs(context.Context) ([]hw.GraphicInfo, error) {
	return s.cardsByVendor(gpu.VendorAMD)
}

func (s *GPUService) IntelGPUs(context.Context) ([]hw.GraphicInfo, error) {
	return s.cardsByVendor(gpu.VendorIntel)
}

// AllGPUs concatenates the vendor lists.
func (s *GPUService) AllGPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	return hw.ConcatVendors(ctx, s.NvidiaGPUs, s.AMDGPUs, s.IntelGPUs)
}

// Stats samples AMD and Intel cards from sysfs and NVIDIA cards through
// nvidia-smi.
func (s *GPUService) Stats(ctx context.Context) ([]gpu.Stat, error) {
	readers, err := s.readersFor(gpu.VendorAMD, gpu.VendorIntel)
	if err != nil {
		return nil, err
	}
	sources := gpu.MultiStats{gpu.SysfsStats{Readers: readers}}
	if s.nvidia.Runner != nil {
		sources = append(sources, s.nvidia)
	}
	return sources.Stats(ctx)
}

func (s *GPUService) amdUsage(ctx context.Context) (float64, error) {
	readers, err := s.readersFor(gpu.VendorAMD)
	if err != nil {
		return 0, err
	}
	return gpu.SysfsStats{Readers: readers}.Usage(ctx)
}

func (s *GPUService) intelUsage(ctx context.Context) (float64, error) {
	infos, err := gpu.Discover(s.sysfsRoot, s.logger)
	if err != nil {
		return 0, hw.Collect("drm", err)
	}
	if len(gpu.FilterVendor(infos, gpu.VendorIntel)) == 0 {
		return 0, hw.Collect("intel_gpu_top", hw.ErrNoDevice)
	}
	return s.intel.Usage(ctx)
}

func (s *GPUService) cardsByVendor(vendor gpu.Vendor) ([]hw.GraphicInfo, error) {
	readers, err := s.readersFor(vendor)
	if err != nil {
		return nil, err
	}
	out := make([]hw.GraphicInfo, 0, len(readers))
	for _, reader := range readers {
		out = append(out, graphicInfo(reader.Info(), reader.Sample()))
	}
	return out, nil
}

// readersFor rediscovers cards and reuses readers for cards already seen.
func (s *GPUService) readersFor(vendors ...gpu.Vendor) ([]*gpu.Reader, error) {
	infos, err := gpu.Discover(s.sysfsRoot, s.logger)
	if err != nil {
		return nil, hw.Collect("drm", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var readers []*gpu.Reader
	for _, vendor := range vendors {
		for _, info := range gpu.FilterVendor(infos, vendor) {
			reader, ok := s.readers[info.ID]
			if !ok || reader.Info() != info {
				reader, err = gpu.NewReader(info, s.sysfsRoot, s.debugfsRoot, s.logger)
				if err != nil {
					s.logger.Warn("failed to create gpu reader", "gpu", info.ID, "err", err)
					continue
				}
				s.readers[info.ID] = reader
			}
			readers = append(readers, reader)
		}
	}
	return readers, nil
}

func graphicInfo(info gpu.Info, sample gpu.Stats) hw.GraphicInfo {
	out := hw.GraphicInfo{
		ID:                  info.PCI,
		Name:                info.Name,
		VendorName:          string(info.Vendor),
		MemorySize:          hw.Unknown,
		MemorySizeDedicated: hw.Unknown,
	}
	if out.ID == "" {
		out.ID = info.ID
	}
	if out.Name == "" {
		out.Name = hw.Unknown
	}
	if sample.SCLKMHz != nil {
		out.Clock = uint32(*sample.SCLKMHz)
	}
	if sample.GTTTotalBytes != nil {
		out.MemorySize = hw.FormatBytes(*sample.GTTTotalBytes)
	}
	if sample.VRAMTotalBytes != nil {
		out.MemorySizeDedicated = hw.FormatBytes(*sample.VRAMTotalBytes)
	}
	return out
}
