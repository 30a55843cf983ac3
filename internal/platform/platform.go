// Package platform selects the hardware providers for the running OS.
package platform

import (
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/skobkin/hwtelemetry/internal/cache"
	"github.com/skobkin/hwtelemetry/internal/execx"
	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

const memoryCacheFile = "memory_detail.json"

// Options configures provider construction. Zero values pick OS defaults.
type Options struct {
	SysfsRoot      string
	DebugfsRoot    string
	ProcRoot       string
	CacheDir       string
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// Platform is the capability set for the running OS plus the per-GPU stats
// source polled by the sampler. Stats is nil where no vendor access exists.
type Platform struct {
	hw.Services
	Stats gpu.StatsSource
}

// New returns the providers compiled for this OS or ErrPlatformUnsupported.
func New(opts Options) (*Platform, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return newPlatform(opts)
}

func (o Options) command() execx.Command {
	return execx.Command{Timeout: o.CommandTimeout}
}

// memoryCache is nil when no cache directory is configured.
func (o Options) memoryCache() *cache.File[[]hw.MemoryInfo] {
	if o.CacheDir == "" {
		return nil
	}
	return cache.New[[]hw.MemoryInfo](filepath.Join(o.CacheDir, memoryCacheFile))
}
