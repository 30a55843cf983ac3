// Package archive rolls the rolling history into avg/max/min records and a
// bounded ranking of interesting processes.
package archive

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/skobkin/hwtelemetry/internal/monitor"
)

const (
	// DefaultInterval is the nominal archive period.
	DefaultInterval = 60 * time.Second
	// TopN is the number of processes kept per ranking.
	TopN = 5
	// MaxExecution bounds a plausible process age.
	MaxExecution = 30 * 24 * time.Hour
)

// Service archives Resources into a Store.
type Service struct {
	res    *monitor.Resources
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(res *monitor.Resources, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		res:    res,
		store:  store,
		logger: logger.With("component", "archive"),
		now:    time.Now,
	}
}

// Cycle writes one archive round. Each record group fails independently and
// failures are logged, never retried.
func (s *Service) Cycle(ctx context.Context) {
	cpu := Summarize(s.res.CPU.Values())
	mem := Summarize(s.res.Memory.Values())
	if err := s.store.InsertHardware(ctx, cpu, mem); err != nil {
		s.logger.Error("archive insert failed", "op", "insert", "record", "hardware", "err", err)
	}

	for _, data := range s.gpuRecords() {
		if err := s.store.InsertGPU(ctx, data); err != nil {
			s.logger.Error("archive insert failed", "op", "insert", "record", "gpu", "gpu", data.Name, "err", err)
		}
	}

	if ranked := RankProcesses(s.processCandidates(), TopN); len(ranked) > 0 {
		if err := s.store.InsertProcessStats(ctx, ranked); err != nil {
			s.logger.Error("archive insert failed", "op", "insert_many", "record", "process", "count", len(ranked), "err", err)
		}
	}
}

// Prune deletes archive rows older than retentionDays from every table.
func (s *Service) Prune(ctx context.Context, retentionDays int) {
	deletes := []struct {
		record string
		fn     func(context.Context, int) error
	}{
		{"hardware", s.store.DeleteOldHardware},
		{"gpu", s.store.DeleteOldGPU},
		{"process", s.store.DeleteOldProcess},
	}
	for _, d := range deletes {
		if err := d.fn(ctx, retentionDays); err != nil {
			s.logger.Error("archive retention failed", "op", "delete_old", "record", d.record, "days", retentionDays, "err", err)
		}
	}
}

func (s *Service) gpuRecords() []GpuData {
	names := s.res.GPUNames()
	out := make([]GpuData, 0, len(names))
	for _, name := range names {
		usage, _ := s.res.GPUUsage.Values(name)
		temp, _ := s.res.GPUTemperature.Values(name)
		mem, _ := s.res.GPUMemory.Values(name)
		out = append(out, GpuData{
			Name:            name,
			Usage:           Summarize(usage),
			Temperature:     Summarize(temp),
			DedicatedMemory: Summarize(mem),
		})
	}
	return out
}

func (s *Service) processCandidates() []ProcessStatData {
	cores := float64(len(s.res.PerCPUUsage()))
	if cores == 0 {
		cores = 1
	}
	now := s.now()

	procs := s.res.Processes()
	out := make([]ProcessStatData, 0, len(procs))
	for _, proc := range procs {
		cpu, _ := s.res.ProcessCPU.Values(proc.PID)
		mem, _ := s.res.ProcessMemory.Values(proc.PID)
		data := ProcessStatData{
			PID:    proc.PID,
			Name:   proc.Name,
			CPU:    Summarize(cpu).scale(cores),
			Memory: Summarize(mem),
		}
		if data.CPU.avg() == 0 && data.Memory.avg() == 0 {
			continue
		}
		if proc.StartTime.IsZero() {
			continue
		}
		exec := now.Sub(proc.StartTime)
		if exec < 0 || exec > MaxExecution {
			continue
		}
		data.ExecutionSeconds = int64(exec / time.Second)
		out = append(out, data)
	}
	return out
}

// RankProcesses takes the top n of candidates by average CPU, average memory
// and execution time, and returns their union de-duplicated by pid.
func RankProcesses(candidates []ProcessStatData, n int) []ProcessStatData {
	rankings := []func(a, b ProcessStatData) bool{
		func(a, b ProcessStatData) bool { return a.CPU.avg() > b.CPU.avg() },
		func(a, b ProcessStatData) bool { return a.Memory.avg() > b.Memory.avg() },
		func(a, b ProcessStatData) bool { return a.ExecutionSeconds > b.ExecutionSeconds },
	}

	seen := make(map[int32]struct{})
	var out []ProcessStatData
	for _, better := range rankings {
		ranked := append([]ProcessStatData(nil), candidates...)
		sort.SliceStable(ranked, func(i, j int) bool {
			if better(ranked[i], ranked[j]) {
				return true
			}
			if better(ranked[j], ranked[i]) {
				return false
			}
			return ranked[i].PID < ranked[j].PID
		})
		if len(ranked) > n {
			ranked = ranked[:n]
		}
		for _, proc := range ranked {
			if _, dup := seen[proc.PID]; dup {
				continue
			}
			seen[proc.PID] = struct{}{}
			out = append(out, proc)
		}
	}
	return out
}
