package gpu

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skobkin/hwtelemetry/internal/execx"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

const smiOutput = `0, NVIDIA GeForce RTX 4090, 35, 61, 2048, 24564, 2520, 00000000:01:00.0
1, NVIDIA GeForce GTX 1080, [N/A], 40, 512, 8192, [Not Supported], 00000000:02:00.0
`

func TestParseNvidiaSMI(t *testing.T) {
	t.Parallel()

	devices, err := ParseNvidiaSMI([]byte(smiOutput))
	if err != nil {
		t.Fatalf("ParseNvidiaSMI returned error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	first := devices[0]
	if first.Name != "NVIDIA GeForce RTX 4090" || first.BusID != "00000000:01:00.0" {
		t.Fatalf("unexpected first device %+v", first)
	}
	assertFloatEqual(t, first.UtilPct, 35)
	assertFloatEqual(t, first.TempC, 61)
	assertFloatEqual(t, first.MemoryTotalMB, 24564)
	if devices[1].UtilPct != nil || devices[1].ClockMHz != nil {
		t.Fatalf("expected N/A fields to be nil: %+v", devices[1])
	}

	if _, err := ParseNvidiaSMI([]byte("0, only two\n")); !errors.Is(err, hw.ErrUnparsable) {
		t.Fatalf("expected ErrUnparsable for short row, got %v", err)
	}
}

func TestNvidiaSMISources(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	smi := NvidiaSMI{Runner: execx.RunnerFunc(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte(smiOutput), nil
	})}

	usage, err := smi.Usage(t.Context())
	if err != nil {
		t.Fatalf("Usage returned error: %v", err)
	}
	if usage != 35 {
		t.Fatalf("expected usage from reporting GPU only, got %v", usage)
	}
	if gotArgs[0] != "nvidia-smi" || !strings.HasPrefix(gotArgs[1], "--query-gpu=index,name,") {
		t.Fatalf("unexpected command %v", gotArgs)
	}

	gpus, err := smi.GPUs(t.Context())
	if err != nil {
		t.Fatalf("GPUs returned error: %v", err)
	}
	if len(gpus) != 2 || gpus[0].VendorName != "NVIDIA" || gpus[0].Clock != 2520 {
		t.Fatalf("unexpected gpus %+v", gpus)
	}
	if gpus[0].MemorySizeDedicated != "24 GiB" {
		t.Fatalf("unexpected dedicated memory %q", gpus[0].MemorySizeDedicated)
	}

	stats, err := smi.Stats(t.Context())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	assertFloatEqual(t, stats[1].DedicatedMemoryMB, 512)
}

func TestNvidiaSMICommandFailure(t *testing.T) {
	t.Parallel()

	smi := NvidiaSMI{Runner: execx.RunnerFunc(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 9")
	})}
	_, err := smi.Usage(t.Context())
	var collErr *hw.CollectionError
	if !errors.As(err, &collErr) || collErr.Source != "nvidia-smi" {
		t.Fatalf("expected collection error from nvidia-smi, got %v", err)
	}

	empty := NvidiaSMI{Runner: execx.RunnerFunc(func(context.Context, string, ...string) ([]byte, error) {
		return nil, nil
	})}
	if _, err := empty.GPUs(t.Context()); !errors.Is(err, hw.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestRenderBusyParser(t *testing.T) {
	t.Parallel()

	t.Run("flat key", func(t *testing.T) {
		var p RenderBusyParser
		value, ok := p.Feed(`{"period": 500, "render busy": 12.5, "video busy": 0}`)
		if !ok || value != 12.5 {
			t.Fatalf("got %v, %v", value, ok)
		}
	})

	t.Run("engine block", func(t *testing.T) {
		lines := []string{
			`{`,
			`	"engines": {`,
			`		"Blitter/0": {`,
			`			"busy": 99.000000,`,
			`		},`,
			`		"Render/3D/0": {`,
			`			"busy": 42.750000,`,
			`			"sema": 0.000000,`,
		}
		var p RenderBusyParser
		for i, line := range lines {
			value, ok := p.Feed(line)
			if ok {
				if i != 6 || value != 42.75 {
					t.Fatalf("matched line %d with %v", i, value)
				}
				return
			}
		}
		t.Fatal("render busy value not found")
	})
}

func TestIntelGPUTopUsage(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	top := IntelGPUTop{Streamer: execx.StreamerFunc(func(_ context.Context, fn func(string) bool, name string, args ...string) error {
		gotArgs = append([]string{name}, args...)
		for _, line := range []string{`[`, `{`, `"Render/3D/0": {`, `"busy": 7.0,`} {
			if fn(line) {
				return nil
			}
		}
		return execx.ErrNoMatch
	})}

	usage, err := top.Usage(t.Context())
	if err != nil {
		t.Fatalf("Usage returned error: %v", err)
	}
	if usage != 7 {
		t.Fatalf("expected 7, got %v", usage)
	}
	if strings.Join(gotArgs, " ") != "intel_gpu_top -J -s 500 -o -" {
		t.Fatalf("unexpected command %v", gotArgs)
	}

	silent := IntelGPUTop{Streamer: execx.StreamerFunc(func(context.Context, func(string) bool, string, ...string) error {
		return execx.ErrNoMatch
	})}
	if _, err := silent.Usage(t.Context()); !errors.Is(err, hw.ErrUnparsable) {
		t.Fatalf("expected ErrUnparsable, got %v", err)
	}
}

func TestChainFirstSuccessWins(t *testing.T) {
	t.Parallel()

	var calls []string
	source := func(name string, value float64, err error) Source[float64] {
		return Source[float64]{Name: name, Fetch: func(context.Context) (float64, error) {
			calls = append(calls, name)
			return value, err
		}}
	}

	chain := NewChain("gpu usage", nil,
		source("vendor", 0, errors.New("driver missing")),
		Source[float64]{Name: "disabled"},
		source("wmi", 33, nil),
		source("sysfs", 99, nil),
	)

	value, from, err := chain.Get(t.Context())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if value != 33 || from != "wmi" {
		t.Fatalf("expected 33 from wmi, got %v from %q", value, from)
	}
	if strings.Join(calls, ",") != "vendor,wmi" {
		t.Fatalf("unexpected call order %v", calls)
	}
	if got := strings.Join(chain.Names(), ","); got != "vendor,wmi,sysfs" {
		t.Fatalf("unexpected names %q", got)
	}
}

func TestChainExhausted(t *testing.T) {
	t.Parallel()

	first := errors.New("first failed")
	chain := NewChain("gpu usage", nil,
		Source[float64]{Name: "a", Fetch: func(context.Context) (float64, error) { return 0, first }},
		Source[float64]{Name: "b", Fetch: func(context.Context) (float64, error) { return 0, hw.ErrNoDevice }},
	)

	_, _, err := chain.Get(t.Context())
	if !errors.Is(err, first) || !errors.Is(err, hw.ErrNoDevice) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	var collErr *hw.CollectionError
	if !errors.As(err, &collErr) || collErr.Source != "gpu usage" {
		t.Fatalf("expected collection error for chain, got %v", err)
	}

	if _, _, err := NewChain[float64]("empty", nil).Get(t.Context()); !errors.Is(err, hw.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice for empty chain, got %v", err)
	}
}

func TestMultiStats(t *testing.T) {
	t.Parallel()

	usage := 10.0
	ok := StatsFunc(func(context.Context) ([]Stat, error) {
		return []Stat{{Name: "gpu0", UsagePct: &usage}}, nil
	})
	bad := StatsFunc(func(context.Context) ([]Stat, error) {
		return nil, errors.New("boom")
	})

	stats, err := MultiStats{bad, ok, nil}.Stats(t.Context())
	if err != nil || len(stats) != 1 {
		t.Fatalf("expected one stat, got %+v, %v", stats, err)
	}
	if _, err := (MultiStats{bad}).Stats(t.Context()); err == nil {
		t.Fatal("expected error when every source fails")
	}
}

func TestResolvePNPDeviceID(t *testing.T) {
	t.Parallel()

	vendor, device, subVendor, subDevice := parsePNPDeviceID(`PCI\VEN_10DE&DEV_2684&SUBSYS_16F310DE&REV_A1\4&1234`)
	if vendor != "10DE" || device != "2684" || subVendor != "10DE" || subDevice != "16F3" {
		t.Fatalf("unexpected parse %s %s %s %s", vendor, device, subVendor, subDevice)
	}

	if got := PreferResolved("Microsoft Basic Display Adapter", "GA102"); got != "GA102" {
		t.Fatalf("expected generic name to be replaced, got %q", got)
	}
	if got := PreferResolved("NVIDIA GeForce RTX 3080", "GA102"); got != "NVIDIA GeForce RTX 3080" {
		t.Fatalf("expected descriptive name to be kept, got %q", got)
	}
	if got := PreferResolved("amdgpu", ""); got != "amdgpu" {
		t.Fatalf("expected empty resolution to keep current, got %q", got)
	}
}
