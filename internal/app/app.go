// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/hwtelemetry/internal/archive"
	"github.com/skobkin/hwtelemetry/internal/config"
	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/httpserver"
	"github.com/skobkin/hwtelemetry/internal/hw"
	"github.com/skobkin/hwtelemetry/internal/monitor"
	"github.com/skobkin/hwtelemetry/internal/platform"
	"github.com/skobkin/hwtelemetry/internal/sampler"
	"github.com/skobkin/hwtelemetry/internal/store"
	"github.com/skobkin/hwtelemetry/internal/system"
	"github.com/skobkin/hwtelemetry/internal/worker"
)

const (
	shutdownTimeout   = 10 * time.Second
	retentionInterval = 24 * time.Hour
)

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	var (
		services hw.Services
		stats    gpu.StatsSource
	)
	plat, err := platform.New(platform.Options{
		SysfsRoot:      cfg.SysfsRoot,
		DebugfsRoot:    cfg.DebugfsRoot,
		ProcRoot:       cfg.ProcRoot,
		CacheDir:       cfg.CacheDir,
		CommandTimeout: cfg.CommandTimeout,
		Logger:         baseLogger,
	})
	switch {
	case errors.Is(err, hw.ErrPlatformUnsupported):
		appLogger.Warn("hardware providers unavailable, serving system metrics only", "err", err)
	case err != nil:
		return fmt.Errorf("init platform: %w", err)
	default:
		services, stats = plat.Services, plat.Stats
	}

	res := monitor.NewResources(system.New(system.NewGopsutilSource(), baseLogger))
	smp := sampler.New(res, stats, baseLogger)

	workers := worker.NewRegistry()
	defer workers.TerminateAll()

	if err := workers.Add(ctx, worker.NewController("sampler", cfg.SampleInterval, smp.Tick, baseLogger, worker.RunImmediately())); err != nil {
		return fmt.Errorf("start sampler: %w", err)
	}

	if cfg.Archive.Enable {
		db, err := store.Open(cfg.Archive.DBPath)
		if err != nil {
			return fmt.Errorf("open archive store: %w", err)
		}
		defer func() {
			workers.TerminateAll()
			if err := db.Close(); err != nil {
				appLogger.Warn("archive store close", "err", err)
			}
		}()

		svc := archive.New(res, db, baseLogger)
		retention := func(ctx context.Context) { svc.Prune(ctx, cfg.Archive.RetentionDays) }
		for _, c := range []*worker.Controller{
			worker.NewController("archive", cfg.Archive.Interval, svc.Cycle, baseLogger),
			worker.NewController("retention", retentionInterval, retention, baseLogger, worker.RunImmediately()),
		} {
			if err := workers.Add(ctx, c); err != nil {
				return fmt.Errorf("start %s worker: %w", c.Name(), err)
			}
		}
		appLogger.Info("archive enabled", "db_path", cfg.Archive.DBPath, "retention_days", cfg.Archive.RetentionDays)
	}

	srv := httpserver.New(cfg, baseLogger, httpserver.Deps{
		Services:  services,
		Resources: res,
		Sampler:   smp,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())
	}

	// Stop producers first so no tick writes into a closing store.
	workers.TerminateAll()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}

	appLogger.Info("shutdown complete")
	return nil
}
