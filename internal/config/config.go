// Package config loads runtime settings from APP_* environment variables,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	ListenAddr       string
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level

	SampleInterval time.Duration
	CommandTimeout time.Duration
	SysfsRoot      string
	DebugfsRoot    string
	ProcRoot       string
	CacheDir       string

	WS      WebsocketConfig
	Archive ArchiveConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// ArchiveConfig controls the archive and retention workers.
type ArchiveConfig struct {
	Enable        bool
	Interval      time.Duration
	RetentionDays int
	DBPath        string
}

// Load parses configuration from environment variables, applying defaults.
// A .env file in the working directory is applied first when present; real
// environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:     ":8080",
		AllowedOrigins: []string{"*"},
		LogLevel:       slog.LevelInfo,
		SampleInterval: time.Second,
		CommandTimeout: 5 * time.Second,
		SysfsRoot:      "/sys",
		DebugfsRoot:    "/sys/kernel/debug",
		ProcRoot:       "/proc",
		CacheDir:       defaultCacheDir(),
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
		Archive: ArchiveConfig{
			Enable:        true,
			Interval:      60 * time.Second,
			RetentionDays: 30,
			DBPath:        "hwtelemetry.db",
		},
	}

	setString(&cfg.ListenAddr, "APP_LISTEN_ADDR")
	setString(&cfg.SysfsRoot, "APP_SYSFS_ROOT")
	setString(&cfg.DebugfsRoot, "APP_DEBUGFS_ROOT")
	setString(&cfg.ProcRoot, "APP_PROC_ROOT")
	setString(&cfg.CacheDir, "APP_CACHE_DIR")
	setString(&cfg.Archive.DBPath, "APP_ARCHIVE_DB_PATH")

	if value := lookup("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := lookup("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	steps := []func() error{
		func() error { return setBool(&cfg.EnablePrometheus, "APP_ENABLE_PROMETHEUS") },
		func() error { return setBool(&cfg.EnablePprof, "APP_ENABLE_PPROF") },
		func() error { return setBool(&cfg.Archive.Enable, "APP_ARCHIVE_ENABLE") },
		func() error { return setDuration(&cfg.SampleInterval, "APP_SAMPLE_INTERVAL") },
		func() error { return setDuration(&cfg.CommandTimeout, "APP_COMMAND_TIMEOUT") },
		func() error { return setDuration(&cfg.WS.WriteTimeout, "APP_WS_WRITE_TIMEOUT") },
		func() error { return setDuration(&cfg.WS.ReadTimeout, "APP_WS_READ_TIMEOUT") },
		func() error { return setDuration(&cfg.Archive.Interval, "APP_ARCHIVE_INTERVAL") },
		func() error { return setPositiveInt(&cfg.WS.MaxClients, "APP_WS_MAX_CLIENTS") },
		func() error { return setPositiveInt(&cfg.Archive.RetentionDays, "APP_ARCHIVE_RETENTION_DAYS") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hwtelemetry")
	}
	return filepath.Join(dir, "hwtelemetry")
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if value := lookup(key); value != "" {
		*dst = value
	}
}

func setBool(dst *bool, key string) error {
	value := lookup(key)
	if value == "" {
		return nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = enabled
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	value := lookup(key)
	if value == "" {
		return nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if duration <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	*dst = duration
	return nil
}

func setPositiveInt(dst *int, key string) error {
	value := lookup(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	*dst = n
	return nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
