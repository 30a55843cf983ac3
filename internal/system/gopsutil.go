package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// GopsutilSource reads host counters through gopsutil. CPU percentages are
// deltas between consecutive calls, so the first call reports zeros.
type GopsutilSource struct {
	mu        sync.Mutex
	prevCores []cpu.TimesStat
	handles   map[int32]*process.Process
	prevProc  map[int32]procSample
	now       func() time.Time
}

type procSample struct {
	cpuSeconds float64
	at         time.Time
}

func NewGopsutilSource() *GopsutilSource {
	return &GopsutilSource{
		handles:  make(map[int32]*process.Process),
		prevProc: make(map[int32]procSample),
		now:      time.Now,
	}
}

func (g *GopsutilSource) PerCoreUsage(ctx context.Context) ([]float64, error) {
	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read cpu times: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	usage := CoreUsage(g.prevCores, times)
	g.prevCores = times
	return usage, nil
}

// CoreUsage converts two per-core time samples into busy percentages. Cores
// without a previous sample report zero.
func CoreUsage(prev, cur []cpu.TimesStat) []float64 {
	out := make([]float64, len(cur))
	for i, c := range cur {
		if i >= len(prev) {
			continue
		}
		p := prev[i]
		total := c.Total() - p.Total()
		idle := (c.Idle + c.Iowait) - (p.Idle + p.Iowait)
		if total <= 0 {
			continue
		}
		out[i] = clamp(100*(1-idle/total), 0, 100)
	}
	return out
}

func (g *GopsutilSource) Memory(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, fmt.Errorf("read virtual memory: %w", err)
	}
	return Memory{UsedBytes: vm.Used, TotalBytes: vm.Total}, nil
}

func (g *GopsutilSource) Processes(ctx context.Context) ([]Process, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pids: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	live := make(map[int32]struct{}, len(pids))
	out := make([]Process, 0, len(pids))
	for _, pid := range pids {
		handle, ok := g.handles[pid]
		if !ok {
			handle, err = process.NewProcessWithContext(ctx, pid)
			if err != nil {
				continue
			}
			g.handles[pid] = handle
		}
		live[pid] = struct{}{}

		proc := Process{PID: pid}
		proc.Name, _ = handle.NameWithContext(ctx)
		if created, err := handle.CreateTimeWithContext(ctx); err == nil {
			proc.StartTime = time.UnixMilli(created)
		}
		if info, err := handle.MemoryInfoWithContext(ctx); err == nil && info != nil {
			proc.MemoryKB = info.RSS / 1024
		}
		if times, err := handle.TimesWithContext(ctx); err == nil && times != nil {
			cur := procSample{cpuSeconds: times.User + times.System, at: now}
			if prev, ok := g.prevProc[pid]; ok {
				proc.CPUPercent = ProcessCPU(prev.cpuSeconds, cur.cpuSeconds, cur.at.Sub(prev.at))
			}
			g.prevProc[pid] = cur
		}
		out = append(out, proc)
	}

	for pid := range g.handles {
		if _, ok := live[pid]; !ok {
			delete(g.handles, pid)
			delete(g.prevProc, pid)
		}
	}
	return out, nil
}

// ProcessCPU returns percent of one core spent between two cumulative CPU
// time readings taken elapsed apart.
func ProcessCPU(prevSeconds, curSeconds float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || curSeconds < prevSeconds {
		return 0
	}
	return (curSeconds - prevSeconds) / elapsed.Seconds() * 100
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
