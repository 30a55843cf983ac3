package gpu

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/hwtelemetry/internal/execx"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

const (
	intelGPUTopSource = "intel_gpu_top"
	// DefaultIntelSamplePeriod is passed to intel_gpu_top via -s so the
	// profiler emits a record and can be stopped quickly.
	DefaultIntelSamplePeriod = 500 * time.Millisecond
)

var (
	renderBusyPattern = regexp.MustCompile(`"render busy"\s*:\s*(-?\d+(?:\.\d+)?)`)
	busyPattern       = regexp.MustCompile(`"busy"\s*:\s*(-?\d+(?:\.\d+)?)`)
)

// IntelGPUTop reads render engine busy percent from intel_gpu_top's JSON
// stream.
type IntelGPUTop struct {
	Streamer execx.Streamer
	Period   time.Duration
	// Binary defaults to "intel_gpu_top".
	Binary string
}

// Usage runs the profiler for a bounded number of samples and returns the
// first render busy value it reports.
func (i IntelGPUTop) Usage(ctx context.Context) (float64, error) {
	if i.Streamer == nil {
		return 0, hw.Collect(intelGPUTopSource, errors.New("no command streamer"))
	}
	period := i.Period
	if period <= 0 {
		period = DefaultIntelSamplePeriod
	}
	binary := i.Binary
	if binary == "" {
		binary = "intel_gpu_top"
	}

	var parser RenderBusyParser
	var usage float64
	err := i.Streamer.Stream(ctx, func(line string) bool {
		value, ok := parser.Feed(line)
		if ok {
			usage = value
		}
		return ok
	}, binary, "-J", "-s", strconv.FormatInt(period.Milliseconds(), 10), "-o", "-")
	if err != nil {
		if errors.Is(err, execx.ErrNoMatch) {
			return 0, hw.Unparsable(intelGPUTopSource, "no render busy value")
		}
		return 0, hw.Collect(intelGPUTopSource, err)
	}
	return usage, nil
}

// RenderBusyParser picks the render engine busy percent out of pretty-printed
// intel_gpu_top JSON fed one line at a time. Older releases print a flat
// "render busy" key; newer ones nest "busy" under a "Render/3D" engine.
type RenderBusyParser struct {
	inRender bool
}

// Feed consumes one line and reports the busy value once found.
func (p *RenderBusyParser) Feed(line string) (float64, bool) {
	if match := renderBusyPattern.FindStringSubmatch(line); match != nil {
		return parseBusy(match[1])
	}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, `"Render/3D`) {
		p.inRender = true
		return 0, false
	}
	if !p.inRender {
		return 0, false
	}
	if strings.HasPrefix(trimmed, "}") {
		p.inRender = false
		return 0, false
	}
	if match := busyPattern.FindStringSubmatch(trimmed); match != nil {
		p.inRender = false
		return parseBusy(match[1])
	}
	return 0, false
}

func parseBusy(raw string) (float64, bool) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return clamp(value, 0, 100), true
}
