package monitor

import (
	"context"
	"reflect"
	"testing"

	"github.com/skobkin/hwtelemetry/internal/system"
)

type staticSource struct {
	cores []float64
	procs []system.Process
}

func (s staticSource) PerCoreUsage(context.Context) ([]float64, error) { return s.cores, nil }
func (s staticSource) Memory(context.Context) (system.Memory, error)   { return system.Memory{}, nil }
func (s staticSource) Processes(context.Context) ([]system.Process, error) {
	return s.procs, nil
}

func TestHistoryQueriesNewestFirstAndCapped(t *testing.T) {
	t.Parallel()

	res := NewResources(system.New(staticSource{}, nil))
	for i := 1; i <= 70; i++ {
		res.CPU.Push(float64(i))
	}

	if got := res.OverallCPUUsage(); got != 70 {
		t.Fatalf("expected latest sample 70, got %v", got)
	}
	if got := res.CPUUsageHistory(3); !reflect.DeepEqual(got, []float64{70, 69, 68}) {
		t.Fatalf("unexpected history %v", got)
	}
	if got := res.CPUUsageHistory(3600); len(got) != MaxQuerySeconds {
		t.Fatalf("expected history capped at %d, got %d", MaxQuerySeconds, len(got))
	}
	if got := res.MemoryUsage(); got != 0 {
		t.Fatalf("expected empty memory buffer to read 0, got %v", got)
	}
}

func TestProcessAndGPUQueries(t *testing.T) {
	t.Parallel()

	sys := system.New(staticSource{
		cores: []float64{5, 15},
		procs: []system.Process{{PID: 42, Name: "b"}, {PID: 7, Name: "a"}},
	}, nil)
	if _, err := sys.Refresh(t.Context()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	res := NewResources(sys)

	res.ProcessCPU.Push(42, 1.5)
	res.ProcessCPU.Push(42, 2.5)
	if got, ok := res.ProcessCPUHistory(42, 10); !ok || !reflect.DeepEqual(got, []float64{2.5, 1.5}) {
		t.Fatalf("unexpected process history %v %v", got, ok)
	}
	if _, ok := res.ProcessMemoryHistory(42, 10); ok {
		t.Fatal("expected no memory history for pid 42")
	}

	res.GPUUsage.Push("Radeon RX 7900 XTX", 40)
	res.GPUTemperature.Push("GeForce RTX 3060", 55)
	if got := res.GPUNames(); !reflect.DeepEqual(got, []string{"GeForce RTX 3060", "Radeon RX 7900 XTX"}) {
		t.Fatalf("unexpected gpu names %v", got)
	}

	if got := res.PerCPUUsage(); !reflect.DeepEqual(got, []float64{5, 15}) {
		t.Fatalf("unexpected per-core usage %v", got)
	}
	procs := res.Processes()
	if len(procs) != 2 || procs[0].PID != 7 {
		t.Fatalf("expected processes sorted by pid, got %+v", procs)
	}
}
