package archive

import (
	"context"
	"math"
)

// HardwareData summarises one series over an archive window. All three
// fields are nil when the series was empty; zero is a valid sample.
type HardwareData struct {
	Avg *float64 `json:"avg"`
	Max *float64 `json:"max"`
	Min *float64 `json:"min"`
}

// GpuData holds per-GPU statistics computed independently per series.
type GpuData struct {
	Name            string       `json:"name"`
	Usage           HardwareData `json:"usage"`
	Temperature     HardwareData `json:"temperature"`
	DedicatedMemory HardwareData `json:"dedicatedMemory"`
}

// ProcessStatData is one ranked process. CPU is normalised by core count;
// memory is in MB.
type ProcessStatData struct {
	PID              int32        `json:"pid"`
	Name             string       `json:"name"`
	ExecutionSeconds int64        `json:"executionSeconds"`
	CPU              HardwareData `json:"cpu"`
	Memory           HardwareData `json:"memory"`
}

// Store persists archive records. Every call is independent; no atomicity
// across tables is assumed.
type Store interface {
	InsertHardware(ctx context.Context, cpu, memory HardwareData) error
	InsertGPU(ctx context.Context, data GpuData) error
	InsertProcessStats(ctx context.Context, batch []ProcessStatData) error
	DeleteOldHardware(ctx context.Context, retentionDays int) error
	DeleteOldGPU(ctx context.Context, retentionDays int) error
	DeleteOldProcess(ctx context.Context, retentionDays int) error
}

// Summarize computes avg/max/min over values.
func Summarize(values []float64) HardwareData {
	if len(values) == 0 {
		return HardwareData{}
	}
	sum, hi, lo := 0.0, math.Inf(-1), math.Inf(1)
	for _, v := range values {
		sum += v
		hi = math.Max(hi, v)
		lo = math.Min(lo, v)
	}
	avg := sum / float64(len(values))
	return HardwareData{Avg: &avg, Max: &hi, Min: &lo}
}

func (d HardwareData) scale(divisor float64) HardwareData {
	if divisor <= 0 {
		return d
	}
	div := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		out := *v / divisor
		return &out
	}
	return HardwareData{Avg: div(d.Avg), Max: div(d.Max), Min: div(d.Min)}
}

func (d HardwareData) avg() float64 {
	if d.Avg == nil {
		return 0
	}
	return *d.Avg
}
