package cache

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type memoryRecord struct {
	Size  string `json:"size"`
	Slots int    `json:"slots"`
}

func TestWriteThenReadReturnsValue(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "nested", "dir", "memory.json")
	c := New[[]memoryRecord](path, WithClock(func() time.Time { return now }))

	want := []memoryRecord{{Size: "32.0 GB", Slots: 4}}
	if err := c.Write(want); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	got, err := c.Read()
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestReadAfterMaxAgeIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	path := filepath.Join(t.TempDir(), "memory.json")
	c := New[memoryRecord](path, WithClock(func() time.Time { return clock() }))

	if err := c.Write(memoryRecord{Size: "16.0 GB"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	clock = func() time.Time { return now.Add(MaxAge) }
	if _, err := c.Read(); err != nil {
		t.Fatalf("read at exactly max age should still hit, got %v", err)
	}

	clock = func() time.Time { return now.Add(MaxAge + time.Second) }
	got, err := c.Read()
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if got != (memoryRecord{}) {
		t.Fatalf("expired read must not return stale data, got %+v", got)
	}
}

func TestReadFutureStampIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := New[memoryRecord](filepath.Join(t.TempDir(), "memory.json"), WithClock(func() time.Time { return clock() }))

	if err := c.Write(memoryRecord{Size: "16.0 GB"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	clock = func() time.Time { return now.Add(-time.Minute) }
	if _, err := c.Read(); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for a snapshot from the future, got %v", err)
	}
}

func TestReadMissingOrCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := New[memoryRecord](filepath.Join(dir, "absent.json"))
	if _, err := missing.Read(); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for absent file, got %v", err)
	}

	corruptPath := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corruptPath, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	corrupt := New[memoryRecord](corruptPath)
	if _, err := corrupt.Read(); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for corrupt file, got %v", err)
	}
}

func TestWriteFailureIsReported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("file"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	c := New[memoryRecord](filepath.Join(blocker, "memory.json"))
	if err := c.Write(memoryRecord{}); err == nil {
		t.Fatalf("expected error writing beneath a regular file")
	}
}

func TestWithMaxAge(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	clock := now
	path := filepath.Join(t.TempDir(), "short.json")
	c := New[int](path, WithMaxAge(time.Minute), WithClock(func() time.Time { return clock }))
	if err := c.Write(7); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	clock = now.Add(2 * time.Minute)
	if _, err := c.Read(); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
