// Package monitor bundles the shared rolling state written by the sampler
// and read by the archive service and the HTTP query surface.
package monitor

import (
	"sort"

	"github.com/skobkin/hwtelemetry/internal/history"
	"github.com/skobkin/hwtelemetry/internal/system"
)

// MaxQuerySeconds caps every history read.
const MaxQuerySeconds = history.Capacity

// Resources is created once at startup and shared by pointer.
type Resources struct {
	System *system.System

	CPU    *history.Buffer[float64]
	Memory *history.Buffer[float64]

	ProcessCPU    *history.Series[int32, float64]
	ProcessMemory *history.Series[int32, float64]

	GPUUsage       *history.Series[string, float64]
	GPUTemperature *history.Series[string, float64]
	GPUMemory      *history.Series[string, float64]
}

// NewResources builds an empty bundle around sys.
func NewResources(sys *system.System) *Resources {
	return &Resources{
		System:         sys,
		CPU:            history.NewBuffer[float64](history.Capacity),
		Memory:         history.NewBuffer[float64](history.Capacity),
		ProcessCPU:     history.NewSeries[int32, float64](history.Capacity),
		ProcessMemory:  history.NewSeries[int32, float64](history.Capacity),
		GPUUsage:       history.NewSeries[string, float64](history.Capacity),
		GPUTemperature: history.NewSeries[string, float64](history.Capacity),
		GPUMemory:      history.NewSeries[string, float64](history.Capacity),
	}
}

// OverallCPUUsage returns the most recent overall CPU sample.
func (r *Resources) OverallCPUUsage() float64 {
	return latest(r.CPU)
}

// PerCPUUsage returns per-core usage from the last refresh.
func (r *Resources) PerCPUUsage() []float64 {
	return r.System.Current().Cores
}

// MemoryUsage returns the most recent memory usage sample.
func (r *Resources) MemoryUsage() float64 {
	return latest(r.Memory)
}

func (r *Resources) CPUUsageHistory(seconds int) []float64 {
	return r.CPU.Latest(clampSeconds(seconds))
}

func (r *Resources) MemoryUsageHistory(seconds int) []float64 {
	return r.Memory.Latest(clampSeconds(seconds))
}

func (r *Resources) ProcessCPUHistory(pid int32, seconds int) ([]float64, bool) {
	return r.ProcessCPU.Latest(pid, clampSeconds(seconds))
}

func (r *Resources) ProcessMemoryHistory(pid int32, seconds int) ([]float64, bool) {
	return r.ProcessMemory.Latest(pid, clampSeconds(seconds))
}

func (r *Resources) GPUUsageHistory(name string, seconds int) ([]float64, bool) {
	return r.GPUUsage.Latest(name, clampSeconds(seconds))
}

func (r *Resources) GPUTemperatureHistory(name string, seconds int) ([]float64, bool) {
	return r.GPUTemperature.Latest(name, clampSeconds(seconds))
}

func (r *Resources) GPUMemoryHistory(name string, seconds int) ([]float64, bool) {
	return r.GPUMemory.Latest(name, clampSeconds(seconds))
}

// Processes returns the process table from the last refresh ordered by pid.
func (r *Resources) Processes() []system.Process {
	procs := r.System.Current().Processes
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	return procs
}

// GPUNames lists every GPU with at least one usage, temperature or memory
// sample, sorted.
func (r *Resources) GPUNames() []string {
	seen := make(map[string]struct{})
	for _, series := range []*history.Series[string, float64]{r.GPUUsage, r.GPUTemperature, r.GPUMemory} {
		for _, name := range series.SortedKeys(func(a, b string) bool { return a < b }) {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func latest(buf *history.Buffer[float64]) float64 {
	values := buf.Latest(1)
	if len(values) == 0 {
		return 0
	}
	return values[0]
}

func clampSeconds(seconds int) int {
	if seconds <= 0 || seconds > MaxQuerySeconds {
		return MaxQuerySeconds
	}
	return seconds
}
