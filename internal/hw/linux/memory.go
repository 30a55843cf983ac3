// Package linux implements the hardware capability interfaces from sysfs,
// procfs and helper commands. Every filesystem root is injectable so the
// package can be exercised against fake trees on any OS.
package linux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skobkin/hwtelemetry/internal/cache"
	"github.com/skobkin/hwtelemetry/internal/execx"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

// MemoryService reads memory from dmidecode with a meminfo fallback.
type MemoryService struct {
	procRoot string
	runner   execx.Runner
	cache    *cache.File[[]hw.MemoryInfo]
	logger   *slog.Logger
}

// NewMemoryService constructs the service. A nil detailCache disables
// caching of the dmidecode result.
func NewMemoryService(procRoot string, runner execx.Runner, detailCache *cache.File[[]hw.MemoryInfo], logger *slog.Logger) *MemoryService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &MemoryService{
		procRoot: procRoot,
		runner:   runner,
		cache:    detailCache,
		logger:   logger.With("component", "linux_memory"),
	}
}

// MemoryInfo returns the capacity from meminfo.
func (s *MemoryService) MemoryInfo(context.Context) (hw.MemoryInfo, error) {
	path := filepath.Join(s.procRoot, "meminfo")
	data, err := os.ReadFile(path)
	if err != nil {
		return hw.MemoryInfo{}, hw.Collect("meminfo", err)
	}
	kb, ok := ParseMemTotal(data)
	if !ok {
		return hw.MemoryInfo{}, hw.Unparsable("meminfo", "no MemTotal line")
	}
	return hw.CapacityOnly(hw.FormatKilobytesAsGigabytes(kb)), nil
}

// DetailedMemoryInfo prefers a fresh cached dmidecode summary, then runs
// dmidecode, then falls back to the capacity-only record.
func (s *MemoryService) DetailedMemoryInfo(ctx context.Context) ([]hw.MemoryInfo, error) {
	if s.cache != nil {
		cached, err := s.cache.Read()
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) && !errors.Is(err, cache.ErrExpired) {
			s.logger.Debug("memory cache read failed", "err", err)
		}
	}

	info, err := s.dmidecode(ctx)
	if err == nil {
		result := []hw.MemoryInfo{info}
		if s.cache != nil {
			if err := s.cache.Write(result); err != nil {
				s.logger.Warn("failed to write memory cache", "path", s.cache.Path(), "err", err)
			}
		}
		return result, nil
	}
	s.logger.Debug("dmidecode unavailable, using meminfo", "err", err)

	capacity, capErr := s.MemoryInfo(ctx)
	if capErr != nil {
		return nil, errors.Join(err, capErr)
	}
	return []hw.MemoryInfo{capacity}, nil
}

func (s *MemoryService) dmidecode(ctx context.Context) (hw.MemoryInfo, error) {
	if s.runner == nil {
		return hw.MemoryInfo{}, hw.Collect("dmidecode", errors.New("no command runner"))
	}
	out, err := s.runner.Run(ctx, "dmidecode", "-t", "memory")
	if err != nil {
		return hw.MemoryInfo{}, hw.Collect("dmidecode", err)
	}
	info := ParseDMIDecode(out)
	if info.TotalSlots == 0 {
		return hw.MemoryInfo{}, hw.Unparsable("dmidecode", "no memory device blocks")
	}
	return info, nil
}
