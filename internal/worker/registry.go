package worker

import (
	"context"
	"fmt"
	"sync"
)

// Registry owns every running controller for the process.
type Registry struct {
	mu          sync.Mutex
	controllers []*Controller
	closed      bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add starts c and tracks it. Adding after TerminateAll fails.
func (r *Registry) Add(ctx context.Context, c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("add %s: %w", c.Name(), ErrTerminated)
	}
	if err := c.Setup(ctx); err != nil {
		return fmt.Errorf("setup %s: %w", c.Name(), err)
	}
	r.controllers = append(r.controllers, c)
	return nil
}

// TerminateAll stops controllers in reverse start order. Only the first call
// does any work.
func (r *Registry) TerminateAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	controllers := r.controllers
	r.controllers = nil
	r.mu.Unlock()

	for i := len(controllers) - 1; i >= 0; i-- {
		controllers[i].Terminate()
	}
}

// Len reports the number of tracked controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}
