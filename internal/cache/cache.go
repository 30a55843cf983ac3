// Package cache persists expensive hardware queries to disk with a maximum age.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MaxAge is how long a cached snapshot stays valid.
const MaxAge = 24 * time.Hour

var (
	// ErrMiss reports an absent or unreadable cache file.
	ErrMiss = errors.New("cache miss")
	// ErrExpired reports a snapshot older than the maximum age.
	ErrExpired = errors.New("cache expired")
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

type envelope[T any] struct {
	Timestamp int64 `json:"timestamp"`
	Data      T     `json:"data"`
}

// File is a JSON snapshot of T stored at a fixed path.
type File[T any] struct {
	path   string
	maxAge time.Duration
	now    Clock
}

// Option customises a File.
type Option func(*options)

type options struct {
	maxAge time.Duration
	now    Clock
}

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxAge overrides MaxAge.
func WithMaxAge(age time.Duration) Option {
	return func(o *options) {
		if age > 0 {
			o.maxAge = age
		}
	}
}

// New binds a cache to path.
func New[T any](path string, opts ...Option) *File[T] {
	o := options{maxAge: MaxAge, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &File[T]{path: path, maxAge: o.maxAge, now: o.now}
}

// Path returns the on-disk location.
func (f *File[T]) Path() string {
	return f.path
}

// Write stores value stamped with the current time, creating parent
// directories as needed. Concurrent writers race and the last rename wins.
func (f *File[T]) Write(value T) error {
	data, err := json.Marshal(envelope[T]{
		Timestamp: f.now().UnixMilli(),
		Data:      value,
	})
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// Read returns the cached value while it is younger than the maximum age.
// A snapshot stamped in the future, e.g. after the clock moved backwards,
// counts as expired. Both ErrMiss and ErrExpired mean the caller must fetch
// fresh data.
func (f *File[T]) Read() (T, error) {
	var zero T

	data, err := os.ReadFile(f.path)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMiss, err)
	}

	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, fmt.Errorf("%w: decode: %v", ErrMiss, err)
	}

	age := f.now().Sub(time.UnixMilli(env.Timestamp))
	if age < 0 || age > f.maxAge {
		return zero, ErrExpired
	}
	return env.Data, nil
}
