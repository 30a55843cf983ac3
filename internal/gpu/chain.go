package gpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

// Source is one step of a vendor fallback chain.
type Source[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (T, error)
}

// Chain tries its sources in order; the first success wins and failures
// cascade to the next source.
type Chain[T any] struct {
	what    string
	sources []Source[T]
	logger  *slog.Logger
}

// NewChain builds a chain named what (used in errors and logs).
func NewChain[T any](what string, logger *slog.Logger, sources ...Source[T]) *Chain[T] {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	filtered := make([]Source[T], 0, len(sources))
	for _, src := range sources {
		if src.Fetch != nil {
			filtered = append(filtered, src)
		}
	}
	return &Chain[T]{what: what, sources: filtered, logger: logger}
}

// Get returns the first successful result and the name of the source that
// produced it. When every source fails the errors are joined into one
// CollectionError.
func (c *Chain[T]) Get(ctx context.Context) (T, string, error) {
	var (
		zero T
		errs []error
	)
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return zero, "", hw.Collect(c.what, err)
		}
		value, err := src.Fetch(ctx)
		if err == nil {
			return value, src.Name, nil
		}
		c.logger.Debug("gpu source failed, trying next", "chain", c.what, "source", src.Name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
	}
	if len(errs) == 0 {
		return zero, "", hw.Collect(c.what, hw.ErrNoDevice)
	}
	return zero, "", hw.Collect(c.what, errors.Join(errs...))
}

// Names lists the configured sources in order.
func (c *Chain[T]) Names() []string {
	names := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		names = append(names, src.Name)
	}
	return names
}
