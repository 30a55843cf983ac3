package gpu

import (
	"context"
	"errors"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

// Stat is the per-GPU reading pushed into history. Nil fields were not
// reported by the source and are not recorded.
type Stat struct {
	// ID is unique per device on the host: the DRM card id for sysfs
	// readers, the PCI bus id for nvidia-smi.
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	UsagePct          *float64 `json:"usage_pct"`
	TempC             *float64 `json:"temp_c"`
	DedicatedMemoryMB *float64 `json:"dedicated_memory_mb"`
}

// StatsSource reports per-GPU telemetry.
type StatsSource interface {
	Stats(ctx context.Context) ([]Stat, error)
}

// StatsFunc adapts a function to StatsSource.
type StatsFunc func(ctx context.Context) ([]Stat, error)

func (f StatsFunc) Stats(ctx context.Context) ([]Stat, error) {
	return f(ctx)
}

// SysfsStats samples AMD and Intel cards through their sysfs readers.
type SysfsStats struct {
	Readers []*Reader
}

// Stats samples every reader. Cards without a name use their card id.
func (s SysfsStats) Stats(context.Context) ([]Stat, error) {
	if len(s.Readers) == 0 {
		return nil, hw.Collect("sysfs gpu stats", hw.ErrNoDevice)
	}
	out := make([]Stat, 0, len(s.Readers))
	for _, reader := range s.Readers {
		sample := reader.Sample()
		name := sample.Name
		if name == "" {
			name = sample.CardID
		}
		stat := Stat{
			ID:       sample.CardID,
			Name:     name,
			UsagePct: sample.BusyPct,
			TempC:    sample.TempC,
		}
		if sample.VRAMUsedBytes != nil {
			mb := float64(*sample.VRAMUsedBytes) / (1 << 20)
			stat.DedicatedMemoryMB = &mb
		}
		out = append(out, stat)
	}
	return out, nil
}

// Usage averages busy percent over the readers that report it.
func (s SysfsStats) Usage(ctx context.Context) (float64, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, err
	}
	var (
		sum   float64
		count int
	)
	for _, stat := range stats {
		if stat.UsagePct != nil {
			sum += *stat.UsagePct
			count++
		}
	}
	if count == 0 {
		return 0, hw.Collect("gpu_busy_percent", hw.ErrNoDevice)
	}
	return sum / float64(count), nil
}

// MultiStats concatenates several sources. It fails only when every source
// fails.
type MultiStats []StatsSource

func (m MultiStats) Stats(ctx context.Context) ([]Stat, error) {
	var (
		out  []Stat
		errs []error
		ok   bool
	)
	for _, src := range m {
		if src == nil {
			continue
		}
		stats, err := src.Stats(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok = true
		out = append(out, stats...)
	}
	if !ok {
		if len(errs) == 0 {
			return nil, hw.Collect("gpu stats", hw.ErrNoDevice)
		}
		return nil, errors.Join(errs...)
	}
	return out, nil
}
