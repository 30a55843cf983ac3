package execx

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandRunCapturesStdout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	out, err := Command{Timeout: 2 * time.Second}.Run(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCommandRunNonZeroExit(t *testing.T) {
	t.Parallel()
	requireShell(t)

	_, err := Command{}.Run(context.Background(), "sh", "-c", "echo denied >&2; exit 3")
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "exit status 3") || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCommandRunMissingBinary(t *testing.T) {
	t.Parallel()

	if _, err := (Command{}).Run(context.Background(), "definitely-not-a-real-binary-hwtelemetry"); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

func TestCommandRunTimeout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	start := time.Now()
	_, err := Command{Timeout: 100 * time.Millisecond}.Run(context.Background(), "sh", "-c", "sleep 5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout did not bound the command")
	}
}

func TestCommandStreamStopsOnMatch(t *testing.T) {
	t.Parallel()
	requireShell(t)

	var seen []string
	err := Command{Timeout: 5 * time.Second}.Stream(context.Background(), func(line string) bool {
		seen = append(seen, line)
		return line == "two"
	}, "sh", "-c", "echo one; echo two; sleep 10")
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected to stop after second line, saw %v", seen)
	}
}

func TestCommandStreamNoMatch(t *testing.T) {
	t.Parallel()
	requireShell(t)

	err := Command{Timeout: 2 * time.Second}.Stream(context.Background(), func(string) bool { return false }, "sh", "-c", "echo only")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}
