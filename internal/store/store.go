// Package store persists archive records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skobkin/hwtelemetry/internal/archive"
)

const schema = `
CREATE TABLE IF NOT EXISTS hardware_archive (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  archived_at TEXT NOT NULL,
  cpu_avg REAL,
  cpu_max REAL,
  cpu_min REAL,
  mem_avg REAL,
  mem_max REAL,
  mem_min REAL
);
CREATE INDEX IF NOT EXISTS idx_hardware_archived ON hardware_archive(archived_at);

CREATE TABLE IF NOT EXISTS gpu_archive (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  archived_at TEXT NOT NULL,
  gpu_name TEXT NOT NULL,
  usage_avg REAL,
  usage_max REAL,
  usage_min REAL,
  temp_avg REAL,
  temp_max REAL,
  temp_min REAL,
  dedicated_mem_avg REAL,
  dedicated_mem_max REAL,
  dedicated_mem_min REAL
);
CREATE INDEX IF NOT EXISTS idx_gpu_archived ON gpu_archive(archived_at);

CREATE TABLE IF NOT EXISTS process_archive (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  archived_at TEXT NOT NULL,
  pid INTEGER NOT NULL,
  process_name TEXT NOT NULL,
  execution_sec INTEGER NOT NULL,
  cpu_avg REAL,
  cpu_max REAL,
  cpu_min REAL,
  mem_avg REAL,
  mem_max REAL,
  mem_min REAL
);
CREATE INDEX IF NOT EXISTS idx_process_archived ON process_archive(archived_at);
`

// SQLite implements archive.Store.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ archive.Store = (*SQLite)(nil)

// Open creates the database file and schema if missing.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Join(fmt.Errorf("ensure schema: %w", err), db.Close())
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *SQLite) cutoff(retentionDays int) string {
	return s.now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
}

func null(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *SQLite) InsertHardware(ctx context.Context, cpu, memory archive.HardwareData) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO hardware_archive
		(archived_at, cpu_avg, cpu_max, cpu_min, mem_avg, mem_max, mem_min)
		VALUES (?,?,?,?,?,?,?)`,
		s.stamp(), null(cpu.Avg), null(cpu.Max), null(cpu.Min), null(memory.Avg), null(memory.Max), null(memory.Min))
	if err != nil {
		return fmt.Errorf("insert hardware: %w", err)
	}
	return nil
}

func (s *SQLite) InsertGPU(ctx context.Context, data archive.GpuData) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gpu_archive
		(archived_at, gpu_name, usage_avg, usage_max, usage_min, temp_avg, temp_max, temp_min,
		 dedicated_mem_avg, dedicated_mem_max, dedicated_mem_min)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.stamp(), data.Name,
		null(data.Usage.Avg), null(data.Usage.Max), null(data.Usage.Min),
		null(data.Temperature.Avg), null(data.Temperature.Max), null(data.Temperature.Min),
		null(data.DedicatedMemory.Avg), null(data.DedicatedMemory.Max), null(data.DedicatedMemory.Min))
	if err != nil {
		return fmt.Errorf("insert gpu %q: %w", data.Name, err)
	}
	return nil
}

// InsertProcessStats writes the batch in one transaction.
func (s *SQLite) InsertProcessStats(ctx context.Context, batch []archive.ProcessStatData) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin process batch: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO process_archive
		(archived_at, pid, process_name, execution_sec, cpu_avg, cpu_max, cpu_min, mem_avg, mem_max, mem_min)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare process insert: %w", err)
	}
	defer stmt.Close()

	ts := s.stamp()
	for _, p := range batch {
		if _, err = stmt.ExecContext(ctx, ts, p.PID, p.Name, p.ExecutionSeconds,
			null(p.CPU.Avg), null(p.CPU.Max), null(p.CPU.Min), null(p.Memory.Avg), null(p.Memory.Max), null(p.Memory.Min)); err != nil {
			return fmt.Errorf("insert process %d: %w", p.PID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit process batch: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteOldHardware(ctx context.Context, retentionDays int) error {
	return s.deleteOld(ctx, "hardware_archive", retentionDays)
}

func (s *SQLite) DeleteOldGPU(ctx context.Context, retentionDays int) error {
	return s.deleteOld(ctx, "gpu_archive", retentionDays)
}

func (s *SQLite) DeleteOldProcess(ctx context.Context, retentionDays int) error {
	return s.deleteOld(ctx, "process_archive", retentionDays)
}

// deleteOld only ever receives the fixed table names above.
func (s *SQLite) deleteOld(ctx context.Context, table string, retentionDays int) error {
	if retentionDays <= 0 {
		return fmt.Errorf("retention days must be > 0, got %d", retentionDays)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE archived_at < ?`, s.cutoff(retentionDays)); err != nil {
		return fmt.Errorf("delete old %s: %w", table, err)
	}
	return nil
}
