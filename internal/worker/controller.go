// Package worker runs periodic tasks as stoppable background loops.
package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context)

// Controller lifecycle states.
type State int

const (
	Idle State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrTerminated is returned by Setup on a controller that already stopped.
var ErrTerminated = errors.New("controller terminated")

// Controller runs a Task on a fixed period until terminated.
type Controller struct {
	name      string
	period    time.Duration
	task      Task
	immediate bool
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// Option tweaks a Controller.
type Option func(*Controller)

// RunImmediately runs the task once on Setup before the first tick.
func RunImmediately() Option {
	return func(c *Controller) { c.immediate = true }
}

// NewController builds an idle controller.
func NewController(name string, period time.Duration, task Task, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{
		name:   name,
		period: period,
		task:   task,
		logger: logger.With("component", "worker", "worker", name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string {
	return c.name
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Setup starts the loop. Calling it on a running controller is a no-op.
func (c *Controller) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Running:
		return nil
	case Terminated:
		return ErrTerminated
	}
	if c.period <= 0 {
		return errors.New("period must be > 0")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.cancel = cancel
	c.state = Running

	go c.loop(loopCtx, c.stop, c.done)
	c.logger.Info("worker started", "period", c.period)
	return nil
}

// Terminate signals the loop and waits for it to exit. An in-flight task
// finishes first. Safe to call repeatedly.
func (c *Controller) Terminate() {
	c.mu.Lock()
	if c.state != Running {
		c.state = Terminated
		c.mu.Unlock()
		return
	}
	c.state = Terminated
	stop, done, cancel := c.stop, c.done, c.cancel
	c.mu.Unlock()

	close(stop)
	<-done
	cancel()
	c.logger.Info("worker stopped")
}

func (c *Controller) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if c.immediate {
		c.run(ctx)
	}

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			c.run(ctx)
		}
	}
}

func (c *Controller) run(ctx context.Context) {
	started := time.Now()
	c.task(ctx)
	if elapsed := time.Since(started); elapsed > c.period {
		c.logger.Warn("tick overran period", "elapsed", elapsed, "period", c.period)
	}
}
