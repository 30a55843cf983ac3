// Package system holds the host snapshot (per-core CPU, memory and the
// process table) refreshed by the sampler once per tick.
package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Process is one live process as seen on the last refresh.
type Process struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpuPercent"`
	MemoryKB   uint64    `json:"memoryKb"`
	StartTime  time.Time `json:"startTime"`
}

// Memory is the virtual memory usage in bytes.
type Memory struct {
	UsedBytes  uint64 `json:"usedBytes"`
	TotalBytes uint64 `json:"totalBytes"`
}

// Source reads raw host counters.
type Source interface {
	// PerCoreUsage returns busy percent per logical core since the last call.
	PerCoreUsage(ctx context.Context) ([]float64, error)
	Memory(ctx context.Context) (Memory, error)
	// Processes returns live processes. CPUPercent is relative to a single
	// core and may exceed 100 on multi-core hosts.
	Processes(ctx context.Context) ([]Process, error)
}

// Snapshot is an immutable copy of the last refresh.
type Snapshot struct {
	Cores     []float64
	Memory    Memory
	Processes []Process
	At        time.Time
}

// System owns the snapshot. Only the sampler refreshes it; readers get copies.
type System struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// New returns a System backed by source.
func New(source Source, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &System{
		source: source,
		logger: logger.With("component", "system"),
		now:    time.Now,
	}
}

// Refresh re-reads every counter under the exclusive lock. A failing
// counter keeps its previous value; the joined error is returned along with
// the resulting snapshot.
func (s *System) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if cores, err := s.source.PerCoreUsage(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else {
		s.snap.Cores = cores
	}
	if mem, err := s.source.Memory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		s.snap.Memory = mem
	}
	if procs, err := s.source.Processes(ctx); err != nil {
		errs = append(errs, fmt.Errorf("processes: %w", err))
	} else {
		s.snap.Processes = procs
	}
	s.snap.At = s.now()

	return s.copyLocked(), errors.Join(errs...)
}

// Current returns the last refreshed snapshot.
func (s *System) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *System) copyLocked() Snapshot {
	out := s.snap
	out.Cores = append([]float64(nil), s.snap.Cores...)
	out.Processes = append([]Process(nil), s.snap.Processes...)
	return out
}
