//go:build darwin

package platform

import (
	"github.com/skobkin/hwtelemetry/internal/hw"
	"github.com/skobkin/hwtelemetry/internal/hw/darwin"
)

func newPlatform(opts Options) (*Platform, error) {
	cmd := opts.command()
	return &Platform{
		Services: hw.Bundle{
			MemoryService:  darwin.NewMemoryService(cmd, opts.memoryCache(), opts.Logger),
			GPUService:     darwin.NewGPUService(cmd),
			NetworkService: darwin.NewNetworkService(opts.Logger),
		},
	}, nil
}
