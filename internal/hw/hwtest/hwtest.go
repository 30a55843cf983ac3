// Package hwtest provides canned hw service implementations for tests.
package hwtest

import (
	"context"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

// Memory is a canned hw.MemoryService.
type Memory struct {
	Info     hw.MemoryInfo
	Detailed []hw.MemoryInfo
	Err      error
}

func (m *Memory) MemoryInfo(context.Context) (hw.MemoryInfo, error) {
	return m.Info, m.Err
}

func (m *Memory) DetailedMemoryInfo(context.Context) ([]hw.MemoryInfo, error) {
	return m.Detailed, m.Err
}

// GPU is a canned hw.GPUService.
type GPU struct {
	Usage  float64
	Nvidia []hw.GraphicInfo
	AMD    []hw.GraphicInfo
	Intel  []hw.GraphicInfo
	Err    error
}

func (g *GPU) GPUUsage(context.Context) (float64, error) { return g.Usage, g.Err }

func (g *GPU) NvidiaGPUs(context.Context) ([]hw.GraphicInfo, error) { return g.Nvidia, g.Err }

func (g *GPU) AMDGPUs(context.Context) ([]hw.GraphicInfo, error) { return g.AMD, g.Err }

func (g *GPU) IntelGPUs(context.Context) ([]hw.GraphicInfo, error) { return g.Intel, g.Err }

func (g *GPU) AllGPUs(context.Context) ([]hw.GraphicInfo, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	out := make([]hw.GraphicInfo, 0, len(g.Nvidia)+len(g.AMD)+len(g.Intel))
	out = append(out, g.Nvidia...)
	out = append(out, g.AMD...)
	out = append(out, g.Intel...)
	return out, nil
}

// Network is a canned hw.NetworkService.
type Network struct {
	Infos []hw.NetworkInfo
	Err   error
}

func (n *Network) NetworkInfo(context.Context) ([]hw.NetworkInfo, error) {
	return n.Infos, n.Err
}

// Services bundles the canned services.
func Services(mem *Memory, gpu *GPU, network *Network) hw.Services {
	return hw.Bundle{MemoryService: mem, GPUService: gpu, NetworkService: network}
}
