// Command hwprobe queries the hardware providers once and prints the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/platform"
	"github.com/skobkin/hwtelemetry/internal/system"
)

type options struct {
	sysfsRoot   string
	debugfsRoot string
	procRoot    string
	cacheDir    string
	timeout     time.Duration
	memory      bool
	detailed    bool
	gpu         bool
	network     bool
	system      bool
	jsonOutput  bool
	verbose     bool
}

type report struct {
	Memory   any          `json:"memory,omitempty"`
	GPUs     any          `json:"gpus,omitempty"`
	GPUUsage *float64     `json:"gpu_usage_pct,omitempty"`
	GPUStats []gpu.Stat   `json:"gpu_stats,omitempty"`
	Network  any          `json:"network,omitempty"`
	System   *systemProbe `json:"system,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
}

type systemProbe struct {
	Cores      []float64 `json:"cores_pct"`
	UsedBytes  uint64    `json:"memory_used_bytes"`
	TotalBytes uint64    `json:"memory_total_bytes"`
	Processes  int       `json:"processes"`
}

func parseFlags() options {
	var opts options
	pflag.StringVar(&opts.sysfsRoot, "sysfs", "/sys", "Path to sysfs root (Linux)")
	pflag.StringVar(&opts.debugfsRoot, "debugfs", "/sys/kernel/debug", "Path to debugfs root (Linux)")
	pflag.StringVar(&opts.procRoot, "proc", "/proc", "Path to procfs root (Linux)")
	pflag.StringVar(&opts.cacheDir, "cache-dir", "", "Directory for the memory detail cache; empty disables it")
	pflag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Overall probe timeout")
	pflag.BoolVarP(&opts.memory, "memory", "m", false, "Probe memory")
	pflag.BoolVarP(&opts.detailed, "detailed", "d", false, "Include per-module memory detail")
	pflag.BoolVarP(&opts.gpu, "gpu", "g", false, "Probe GPUs")
	pflag.BoolVarP(&opts.network, "network", "n", false, "Probe network interfaces")
	pflag.BoolVarP(&opts.system, "system", "s", false, "Sample CPU, memory and processes over one second")
	pflag.BoolVar(&opts.jsonOutput, "json", false, "Emit the report as JSON")
	pflag.BoolVarP(&opts.verbose, "verbose", "v", false, "Log provider fallbacks")
	pflag.Parse()

	if !opts.memory && !opts.gpu && !opts.network && !opts.system {
		opts.memory, opts.gpu, opts.network = true, true, true
	}
	return opts
}

func main() {
	opts := parseFlags()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	plat, err := platform.New(platform.Options{
		SysfsRoot:   opts.sysfsRoot,
		DebugfsRoot: opts.debugfsRoot,
		ProcRoot:    opts.procRoot,
		CacheDir:    opts.cacheDir,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("platform init failed", "err", err)
		os.Exit(1)
	}

	rep := probe(ctx, plat, opts)

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			logger.Error("encode report", "err", err)
			os.Exit(1)
		}
	} else {
		printReport(os.Stdout, rep)
	}
	if len(rep.Errors) > 0 {
		os.Exit(2)
	}
}

func probe(ctx context.Context, plat *platform.Platform, opts options) report {
	var rep report
	fail := func(what string, err error) {
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", what, err))
	}

	if opts.memory {
		if opts.detailed {
			if infos, err := plat.Memory().DetailedMemoryInfo(ctx); err != nil {
				fail("memory detail", err)
			} else {
				rep.Memory = infos
			}
		} else {
			if info, err := plat.Memory().MemoryInfo(ctx); err != nil {
				fail("memory", err)
			} else {
				rep.Memory = info
			}
		}
	}

	if opts.gpu {
		if gpus, err := plat.GPU().AllGPUs(ctx); err != nil {
			fail("gpus", err)
		} else {
			rep.GPUs = gpus
		}
		if usage, err := plat.GPU().GPUUsage(ctx); err != nil {
			fail("gpu usage", err)
		} else {
			rep.GPUUsage = &usage
		}
		if plat.Stats != nil {
			if stats, err := plat.Stats.Stats(ctx); err != nil {
				fail("gpu stats", err)
			} else {
				rep.GPUStats = stats
			}
		}
	}

	if opts.network {
		if infos, err := plat.Network().NetworkInfo(ctx); err != nil {
			fail("network", err)
		} else {
			rep.Network = infos
		}
	}

	if opts.system {
		sys, err := sampleSystem(ctx)
		if err != nil {
			fail("system", err)
		}
		rep.System = sys
	}
	return rep
}

// sampleSystem takes two readings a second apart so usage deltas are real.
func sampleSystem(ctx context.Context) (*systemProbe, error) {
	sys := system.New(system.NewGopsutilSource(), nil)
	if _, err := sys.Refresh(ctx); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}
	snap, err := sys.Refresh(ctx)
	return &systemProbe{
		Cores:      snap.Cores,
		UsedBytes:  snap.Memory.UsedBytes,
		TotalBytes: snap.Memory.TotalBytes,
		Processes:  len(snap.Processes),
	}, err
}

func printReport(w io.Writer, rep report) {
	if rep.Memory != nil {
		fmt.Fprintf(w, "Memory:\n  %+v\n", rep.Memory)
	}
	if rep.GPUs != nil {
		fmt.Fprintf(w, "GPUs:\n  %+v\n", rep.GPUs)
	}
	if rep.GPUUsage != nil {
		fmt.Fprintf(w, "GPU usage: %.0f%%\n", *rep.GPUUsage)
	}
	for _, stat := range rep.GPUStats {
		fmt.Fprintf(w, "  %s usage=%s temp=%s mem=%s\n", stat.Name, optional(stat.UsagePct, "%"), optional(stat.TempC, "C"), optional(stat.DedicatedMemoryMB, "MB"))
	}
	if rep.Network != nil {
		fmt.Fprintf(w, "Network:\n  %+v\n", rep.Network)
	}
	if sys := rep.System; sys != nil {
		fmt.Fprintf(w, "System:\n  cores: %v\n  memory: %s / %s\n  processes: %d\n",
			sys.Cores, humanize.IBytes(sys.UsedBytes), humanize.IBytes(sys.TotalBytes), sys.Processes)
	}
	for _, msg := range rep.Errors {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
}

func optional(v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%s", *v, unit)
}
