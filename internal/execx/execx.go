// Package execx runs external helper commands with a bounded lifetime and
// turns every failure into an error.
package execx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a command when the caller did not set a deadline.
const DefaultTimeout = 5 * time.Second

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}

// Command is the production Runner backed by os/exec.
type Command struct {
	Timeout time.Duration
}

// Run starts name, waits for it under the configured timeout, and reports
// non-zero exits along with the trimmed stderr.
func (c Command) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run %s: %w", name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return nil, fmt.Errorf("run %s: exit status %d", name, exitErr.ExitCode())
			}
			return nil, fmt.Errorf("run %s: exit status %d: %s", name, exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Streamer feeds command output to fn line by line until fn reports done.
type Streamer interface {
	Stream(ctx context.Context, fn func(line string) bool, name string, args ...string) error
}

// StreamerFunc adapts a function to Streamer.
type StreamerFunc func(ctx context.Context, fn func(line string) bool, name string, args ...string) error

func (f StreamerFunc) Stream(ctx context.Context, fn func(line string) bool, name string, args ...string) error {
	return f(ctx, fn, name, args...)
}

// ErrNoMatch reports that a streamed command exited before fn was satisfied.
var ErrNoMatch = errors.New("command ended without expected output")

// Stream runs a long-lived command such as a profiler and kills it as soon
// as fn returns true.
func (c Command) Stream(ctx context.Context, fn func(line string) bool, name string, args ...string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	matched := false
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if fn(scanner.Text()) {
			matched = true
			break
		}
	}
	cancel()
	_ = cmd.Wait()

	if matched {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return fmt.Errorf("%s: %w", name, ErrNoMatch)
}
