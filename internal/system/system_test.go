package system

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

type fakeSource struct {
	cores   []float64
	memory  Memory
	procs   []Process
	procErr error
}

func (f *fakeSource) PerCoreUsage(context.Context) ([]float64, error) { return f.cores, nil }
func (f *fakeSource) Memory(context.Context) (Memory, error)          { return f.memory, nil }
func (f *fakeSource) Processes(context.Context) ([]Process, error) {
	if f.procErr != nil {
		return nil, f.procErr
	}
	return f.procs, nil
}

func TestRefreshKeepsPreviousValueOnError(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		cores:  []float64{10, 20},
		memory: Memory{UsedBytes: 1, TotalBytes: 4},
		procs:  []Process{{PID: 1, Name: "init"}},
	}
	sys := New(src, nil)

	snap, err := sys.Refresh(t.Context())
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if len(snap.Cores) != 2 || len(snap.Processes) != 1 || snap.At.IsZero() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	src.procErr = errors.New("permission denied")
	src.cores = []float64{30, 40}
	snap, err = sys.Refresh(t.Context())
	if err == nil {
		t.Fatal("expected process error")
	}
	if snap.Cores[0] != 30 || len(snap.Processes) != 1 {
		t.Fatalf("expected cores refreshed and processes kept, got %+v", snap)
	}

	snap.Cores[0] = 99
	if sys.Current().Cores[0] != 30 {
		t.Fatal("Current must return a copy")
	}
}

func TestCoreUsage(t *testing.T) {
	t.Parallel()

	prev := []cpu.TimesStat{{User: 10, Idle: 90}, {User: 0, Idle: 100}}
	cur := []cpu.TimesStat{{User: 60, Idle: 140}, {User: 0, Idle: 100}, {User: 5}}

	usage := CoreUsage(prev, cur)
	if len(usage) != 3 {
		t.Fatalf("expected 3 cores, got %v", usage)
	}
	if math.Abs(usage[0]-50) > 1e-9 {
		t.Fatalf("expected 50%% on core 0, got %v", usage[0])
	}
	if usage[1] != 0 || usage[2] != 0 {
		t.Fatalf("expected idle and unseen cores at zero, got %v", usage)
	}
}

func TestProcessCPU(t *testing.T) {
	t.Parallel()

	if got := ProcessCPU(1, 3, time.Second); got != 200 {
		t.Fatalf("expected 200, got %v", got)
	}
	if got := ProcessCPU(3, 1, time.Second); got != 0 {
		t.Fatalf("expected counter reset to read 0, got %v", got)
	}
	if got := ProcessCPU(1, 3, 0); got != 0 {
		t.Fatalf("expected zero elapsed to read 0, got %v", got)
	}
}

func TestGopsutilSourceReadsHost(t *testing.T) {
	t.Parallel()

	src := NewGopsutilSource()
	mem, err := src.Memory(t.Context())
	if err != nil {
		t.Skipf("virtual memory unavailable: %v", err)
	}
	if mem.TotalBytes == 0 {
		t.Fatal("expected non-zero total memory")
	}
	if _, err := src.PerCoreUsage(t.Context()); err != nil {
		t.Skipf("cpu times unavailable: %v", err)
	}
}
