//go:build linux

package platform

import (
	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/hw"
	"github.com/skobkin/hwtelemetry/internal/hw/linux"
)

func newPlatform(opts Options) (*Platform, error) {
	cmd := opts.command()
	gpus := linux.NewGPUService(linux.GPUConfig{
		SysfsRoot:   opts.SysfsRoot,
		DebugfsRoot: opts.DebugfsRoot,
		Nvidia:      gpu.NvidiaSMI{Runner: cmd},
		Intel:       gpu.IntelGPUTop{Streamer: cmd},
	}, opts.Logger)

	return &Platform{
		Services: hw.Bundle{
			MemoryService:  linux.NewMemoryService(opts.ProcRoot, cmd, opts.memoryCache(), opts.Logger),
			GPUService:     gpus,
			NetworkService: linux.NewNetworkService(opts.ProcRoot, opts.SysfsRoot, nil, opts.Logger),
		},
		Stats: gpus,
	}, nil
}
