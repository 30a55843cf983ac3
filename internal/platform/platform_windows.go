//go:build windows

package platform

import (
	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/hw"
	"github.com/skobkin/hwtelemetry/internal/hw/windows"
)

func newPlatform(opts Options) (*Platform, error) {
	query := windows.DefaultQuery()
	gpus := windows.NewGPUService(query, gpu.NvidiaSMI{Runner: opts.command()}, opts.Logger)
	return &Platform{
		Services: hw.Bundle{
			MemoryService:  windows.NewMemoryService(query, opts.memoryCache(), opts.Logger),
			GPUService:     gpus,
			NetworkService: windows.NewNetworkService(query),
		},
		Stats: gpus,
	}, nil
}
