package sampler

import (
	"time"

	"github.com/skobkin/hwtelemetry/internal/gpu"
)

// Snapshot is the result of one sampler tick.
type Snapshot struct {
	Timestamp        time.Time  `json:"ts"`
	CPUPct           float64    `json:"cpu_pct"`
	CoresPct         []float64  `json:"cores_pct"`
	MemoryPct        float64    `json:"memory_pct"`
	MemoryUsedBytes  uint64     `json:"memory_used_bytes"`
	MemoryTotalBytes uint64     `json:"memory_total_bytes"`
	ProcessCount     int        `json:"process_count"`
	GPUs             []gpu.Stat `json:"gpus"`
}
