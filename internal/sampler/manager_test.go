package sampler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/monitor"
	"github.com/skobkin/hwtelemetry/internal/system"
)

type fakeSource struct {
	mu     sync.Mutex
	cores  []float64
	memory system.Memory
	procs  []system.Process
}

func (f *fakeSource) set(cores []float64, memory system.Memory, procs ...system.Process) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cores, f.memory, f.procs = cores, memory, procs
}

func (f *fakeSource) PerCoreUsage(context.Context) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cores, nil
}

func (f *fakeSource) Memory(context.Context) (system.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memory, nil
}

func (f *fakeSource) Processes(context.Context) ([]system.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs, nil
}

func ptr(v float64) *float64 { return &v }

func TestOverallCPUAndMemoryPercent(t *testing.T) {
	t.Parallel()

	if got := OverallCPU(nil); got != 0 {
		t.Fatalf("expected 0 for no cores, got %v", got)
	}
	if got := OverallCPU([]float64{10, 20, 31}); got != 20 {
		t.Fatalf("expected 20, got %v", got)
	}
	if got := MemoryPercent(5, 0); got != 0 {
		t.Fatalf("expected 0 for zero total, got %v", got)
	}
	if got := MemoryPercent(1, 3); got != 33 {
		t.Fatalf("expected 33, got %v", got)
	}
}

func TestTickPushesMetrics(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set([]float64{40, 60}, system.Memory{UsedBytes: 1, TotalBytes: 4},
		system.Process{PID: 1, CPUPercent: 3, MemoryKB: 2048},
		system.Process{PID: 2, CPUPercent: 1, MemoryKB: 512},
	)
	res := monitor.NewResources(system.New(src, nil))
	stats := gpu.StatsFunc(func(context.Context) ([]gpu.Stat, error) {
		return []gpu.Stat{{Name: "Radeon RX 6600", UsagePct: ptr(37), TempC: ptr(61)}}, nil
	})
	s := New(res, stats, nil)

	s.Tick(t.Context())

	if got := res.CPUUsageHistory(10); !reflect.DeepEqual(got, []float64{50}) {
		t.Fatalf("unexpected cpu history %v", got)
	}
	if got := res.MemoryUsageHistory(10); !reflect.DeepEqual(got, []float64{25}) {
		t.Fatalf("unexpected memory history %v", got)
	}
	if got, ok := res.ProcessMemoryHistory(1, 10); !ok || got[0] != 2 {
		t.Fatalf("expected 2 MB for pid 1, got %v %v", got, ok)
	}
	if got, ok := res.GPUUsageHistory("Radeon RX 6600", 10); !ok || got[0] != 37 {
		t.Fatalf("unexpected gpu usage %v %v", got, ok)
	}
	if _, ok := res.GPUMemoryHistory("Radeon RX 6600", 10); ok {
		t.Fatal("expected no memory series for a gpu without memory readings")
	}

	src.set([]float64{0}, system.Memory{}, system.Process{PID: 2})
	s.Tick(t.Context())
	if _, ok := res.ProcessCPUHistory(1, 10); ok {
		t.Fatal("expected history for exited pid to be dropped")
	}
	if got, ok := res.ProcessCPUHistory(2, 10); !ok || len(got) != 2 {
		t.Fatalf("expected two samples for pid 2, got %v", got)
	}
}

func TestTickToleratesGPUFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set([]float64{10}, system.Memory{TotalBytes: 1})
	res := monitor.NewResources(system.New(src, nil))
	s := New(res, gpu.StatsFunc(func(context.Context) ([]gpu.Stat, error) {
		return nil, errors.New("nvidia-smi missing")
	}), nil)

	s.Tick(t.Context())
	snap, ok := s.Latest()
	if !ok || snap.CPUPct != 10 || snap.GPUs != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestTickRetainsLiveGPUs(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set([]float64{10}, system.Memory{TotalBytes: 1})
	res := monitor.NewResources(system.New(src, nil))

	var (
		mu    sync.Mutex
		stats []gpu.Stat
		fail  error
	)
	set := func(next []gpu.Stat, err error) {
		mu.Lock()
		defer mu.Unlock()
		stats, fail = next, err
	}
	s := New(res, gpu.StatsFunc(func(context.Context) ([]gpu.Stat, error) {
		mu.Lock()
		defer mu.Unlock()
		return stats, fail
	}), nil)

	set([]gpu.Stat{
		{ID: "card0", Name: "Radeon RX 6600", UsagePct: ptr(10), TempC: ptr(50)},
		{ID: "nvidia0", Name: "RTX 3090", UsagePct: ptr(20)},
		{ID: "nvidia1", Name: "RTX 3090", UsagePct: ptr(30)},
	}, nil)
	s.Tick(t.Context())
	if got := res.GPUNames(); !reflect.DeepEqual(got, []string{"RTX 3090 (nvidia0)", "RTX 3090 (nvidia1)", "Radeon RX 6600"}) {
		t.Fatalf("unexpected gpu names %v", got)
	}

	// A failed read keeps the windows; a successful one drops missing cards.
	set(nil, errors.New("nvidia-smi missing"))
	s.Tick(t.Context())
	if len(res.GPUNames()) != 3 {
		t.Fatalf("expected series kept across a failed read, got %v", res.GPUNames())
	}

	set([]gpu.Stat{{ID: "nvidia0", Name: "RTX 3090", UsagePct: ptr(40)}}, nil)
	s.Tick(t.Context())
	if got := res.GPUNames(); !reflect.DeepEqual(got, []string{"RTX 3090"}) {
		t.Fatalf("expected only the remaining card, got %v", got)
	}
	if _, ok := res.GPUTemperatureHistory("Radeon RX 6600", 10); ok {
		t.Fatal("expected temperature history of the removed card to be dropped")
	}
}

func TestSeriesKeys(t *testing.T) {
	t.Parallel()

	keys := SeriesKeys([]gpu.Stat{
		{ID: "card0", Name: "Arc A770"},
		{ID: "card1", Name: "Arc A770"},
		{ID: "card2", Name: "Radeon"},
		{Name: "Radeon"},
	})
	want := []string{"Arc A770 (card0)", "Arc A770 (card1)", "Radeon (card2)", "Radeon"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("SeriesKeys = %v, want %v", keys, want)
	}
}

func TestSubscribeAndReady(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set([]float64{10}, system.Memory{TotalBytes: 1})
	s := New(monitor.NewResources(system.New(src, nil)), nil, nil)

	if s.Ready() {
		t.Fatal("expected sampler not ready before the first tick")
	}
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Tick(t.Context())
	if !s.Ready() {
		t.Fatal("expected sampler ready after a tick")
	}
	first := awaitSnapshot(t, ch)
	if first.CPUPct != 10 {
		t.Fatalf("unexpected first snapshot %+v", first)
	}

	// Leave snapshots unconsumed; only the newest must survive.
	src.set([]float64{30}, system.Memory{TotalBytes: 1})
	s.Tick(t.Context())
	src.set([]float64{70}, system.Memory{TotalBytes: 1})
	s.Tick(t.Context())
	if final := awaitSnapshot(t, ch); final.CPUPct != 70 {
		t.Fatalf("expected newest snapshot, got %+v", final)
	}

	late, unsubscribeLate := s.Subscribe()
	defer unsubscribeLate()
	if snap := awaitSnapshot(t, late); snap.CPUPct != 70 {
		t.Fatalf("expected late subscriber to receive latest snapshot, got %+v", snap)
	}
}

func awaitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return snap
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}
