// Package sampler refreshes the host snapshot once per tick and pushes the
// derived metrics into the shared history.
package sampler

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/monitor"
)

// DefaultInterval is the nominal sampling period.
const DefaultInterval = time.Second

// Sampler writes one round of metrics into Resources per Tick, caches the
// latest snapshot and fans it out to subscribers.
type Sampler struct {
	res    *monitor.Resources
	gpus   gpu.StatsSource
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	latest      Snapshot
	ready       bool
	subscribers map[*subscriber]struct{}
}

// New builds a Sampler. gpus may be nil on platforms without vendor access.
func New(res *monitor.Resources, gpus gpu.StatsSource, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sampler{
		res:         res,
		gpus:        gpus,
		logger:      logger.With("component", "sampler"),
		now:         time.Now,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Tick performs one sampling round. Collection errors are logged; whatever
// was read is still recorded.
func (s *Sampler) Tick(ctx context.Context) {
	snap, err := s.res.System.Refresh(ctx)
	if err != nil {
		s.logger.Warn("system refresh incomplete", "err", err)
	}

	cpuPct := OverallCPU(snap.Cores)
	memPct := MemoryPercent(snap.Memory.UsedBytes, snap.Memory.TotalBytes)
	s.res.CPU.Push(cpuPct)
	s.res.Memory.Push(memPct)

	live := make(map[int32]struct{}, len(snap.Processes))
	for _, proc := range snap.Processes {
		live[proc.PID] = struct{}{}
		s.res.ProcessCPU.Push(proc.PID, proc.CPUPercent)
		s.res.ProcessMemory.Push(proc.PID, float64(proc.MemoryKB)/1024)
	}
	s.res.ProcessCPU.Retain(live)
	s.res.ProcessMemory.Retain(live)

	out := Snapshot{
		Timestamp:        s.now().UTC(),
		CPUPct:           cpuPct,
		CoresPct:         snap.Cores,
		MemoryPct:        memPct,
		MemoryUsedBytes:  snap.Memory.UsedBytes,
		MemoryTotalBytes: snap.Memory.TotalBytes,
		ProcessCount:     len(snap.Processes),
		GPUs:             s.sampleGPUs(ctx),
	}
	s.publish(out)
}

func (s *Sampler) sampleGPUs(ctx context.Context) []gpu.Stat {
	if s.gpus == nil {
		return nil
	}
	stats, err := s.gpus.Stats(ctx)
	if err != nil {
		s.logger.Debug("gpu stats unavailable", "err", err)
		return nil
	}
	keys := SeriesKeys(stats)
	live := make(map[string]struct{}, len(stats))
	for i, stat := range stats {
		key := keys[i]
		live[key] = struct{}{}
		if stat.UsagePct != nil {
			s.res.GPUUsage.Push(key, *stat.UsagePct)
		}
		if stat.TempC != nil {
			s.res.GPUTemperature.Push(key, *stat.TempC)
		}
		if stat.DedicatedMemoryMB != nil {
			s.res.GPUMemory.Push(key, *stat.DedicatedMemoryMB)
		}
	}
	s.res.GPUUsage.Retain(live)
	s.res.GPUTemperature.Retain(live)
	s.res.GPUMemory.Retain(live)
	return stats
}

// SeriesKeys names the history series for each stat: the model name, or
// "name (id)" when several devices share a model.
func SeriesKeys(stats []gpu.Stat) []string {
	seen := make(map[string]int, len(stats))
	for _, stat := range stats {
		seen[stat.Name]++
	}
	keys := make([]string, len(stats))
	for i, stat := range stats {
		keys[i] = stat.Name
		if seen[stat.Name] > 1 && stat.ID != "" {
			keys[i] = stat.Name + " (" + stat.ID + ")"
		}
	}
	return keys
}

// OverallCPU is the mean per-core usage rounded to a whole percent.
func OverallCPU(cores []float64) float64 {
	if len(cores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range cores {
		sum += v
	}
	return math.Round(sum / float64(len(cores)))
}

// MemoryPercent is used/total rounded to a whole percent.
func MemoryPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(used) / float64(total) * 100)
}

// Latest returns the most recent snapshot.
func (s *Sampler) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ready
}

// Ready reports whether at least one tick has completed.
func (s *Sampler) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Subscribe registers a listener. The latest snapshot, if any, is delivered
// immediately. Slow listeners only ever see the newest snapshot.
func (s *Sampler) Subscribe() (<-chan Snapshot, func()) {
	sub := newSubscriber()

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	if s.ready {
		sub.send(s.latest)
	}
	s.mu.Unlock()

	return sub.channel(), func() { s.removeSubscriber(sub) }
}

func (s *Sampler) publish(snap Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.ready = true
	targets := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.send(snap)
	}
}

func (s *Sampler) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
	sub.close()
}

type subscriber struct {
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Snapshot, 1)}
}

func (s *subscriber) channel() <-chan Snapshot {
	return s.ch
}

func (s *subscriber) send(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
		// Drop oldest to make room.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snap:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
