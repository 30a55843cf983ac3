package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/sampler"
)

const metricsNamespace = "hwtelemetry"

// snapshotCollector exports the latest sampler snapshot at scrape time.
type snapshotCollector struct {
	sampler *sampler.Sampler

	cpu, core, memPct, memUsed, memTotal, procs, age *prometheus.Desc
	gpuMetrics                                       []gpuMetric
}

type gpuMetric struct {
	desc    *prometheus.Desc
	extract func(stat gpu.Stat) *float64
}

func newSnapshotCollector(s *sampler.Sampler) prometheus.Collector {
	if s == nil {
		return nil
	}
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, labels, nil)
	}
	gpuDesc := func(name, help string) *prometheus.Desc {
		return desc("gpu", name, help, "id", "gpu")
	}
	return &snapshotCollector{
		sampler:  s,
		cpu:      desc("cpu", "usage_percent", "Overall CPU usage percentage."),
		core:     desc("cpu", "core_usage_percent", "Per-core CPU usage percentage.", "core"),
		memPct:   desc("memory", "usage_percent", "Physical memory usage percentage."),
		memUsed:  desc("memory", "used_bytes", "Physical memory in use."),
		memTotal: desc("memory", "total_bytes", "Installed physical memory."),
		procs:    desc("process", "count", "Number of sampled processes."),
		age:      desc("sampler", "sample_age_seconds", "Seconds since the latest snapshot was taken."),
		gpuMetrics: []gpuMetric{
			{desc: gpuDesc("usage_percent", "GPU engine usage percentage."), extract: func(st gpu.Stat) *float64 { return st.UsagePct }},
			{desc: gpuDesc("temperature_celsius", "GPU temperature in Celsius."), extract: func(st gpu.Stat) *float64 { return st.TempC }},
			{desc: gpuDesc("dedicated_memory_megabytes", "Dedicated GPU memory in use."), extract: func(st gpu.Stat) *float64 { return st.DedicatedMemoryMB }},
		},
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.cpu, c.core, c.memPct, c.memUsed, c.memTotal, c.procs, c.age} {
		ch <- d
	}
	for _, metric := range c.gpuMetrics {
		ch <- metric.desc
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap, ok := c.sampler.Latest()
	if !ok {
		return
	}
	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}

	gauge(c.cpu, snap.CPUPct)
	for i, pct := range snap.CoresPct {
		gauge(c.core, pct, strconv.Itoa(i))
	}
	gauge(c.memPct, snap.MemoryPct)
	gauge(c.memUsed, float64(snap.MemoryUsedBytes))
	gauge(c.memTotal, float64(snap.MemoryTotalBytes))
	gauge(c.procs, float64(snap.ProcessCount))
	gauge(c.age, max(time.Since(snap.Timestamp).Seconds(), 0))

	for i, stat := range snap.GPUs {
		id := stat.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		for _, metric := range c.gpuMetrics {
			if v := metric.extract(stat); v != nil {
				gauge(metric.desc, *v, id, stat.Name)
			}
		}
	}
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	wsGauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: metricsNamespace, Subsystem: "ws", Name: name, Help: help}, fn)
	}
	wsCounter := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: "ws", Name: name, Help: help}, fn)
	}
	registry.MustRegister(
		wsGauge("active_clients", "Currently connected WebSocket clients.", func() float64 { return float64(s.wsActive.Load()) }),
		wsCounter("connections_total", "Accepted WebSocket connections.", func() float64 { return float64(s.wsTotal.Load()) }),
		wsCounter("rejected_total", "WebSocket connections rejected at the client limit.", func() float64 { return float64(s.wsRejected.Load()) }),
		wsCounter("messages_sent_total", "Snapshot messages written to clients.", func() float64 { return float64(s.wsSent.Load()) }),
		wsCounter("messages_dropped_total", "Snapshot messages dropped for slow clients.", func() float64 { return float64(s.wsDropped.Load()) }),
	)

	if collector := newSnapshotCollector(s.deps.Sampler); collector != nil {
		registry.MustRegister(collector)
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
