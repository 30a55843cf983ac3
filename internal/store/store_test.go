package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/skobkin/hwtelemetry/internal/archive"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "archive.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countRows(t *testing.T, s *SQLite, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestInsertHardwareKeepsNulls(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	cpu := archive.Summarize([]float64{10, 20, 30})
	if err := s.InsertHardware(t.Context(), cpu, archive.HardwareData{}); err != nil {
		t.Fatalf("InsertHardware returned error: %v", err)
	}

	var avg float64
	var memAvg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT cpu_avg, mem_avg FROM hardware_archive`).Scan(&avg, &memAvg); err != nil {
		t.Fatalf("query: %v", err)
	}
	if avg != 20 || memAvg.Valid {
		t.Fatalf("expected cpu avg 20 and null memory, got %v %+v", avg, memAvg)
	}
}

func TestInsertGPUAndProcesses(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.InsertGPU(t.Context(), archive.GpuData{Name: "Radeon RX 6600", Usage: archive.Summarize([]float64{1})}); err != nil {
		t.Fatalf("InsertGPU returned error: %v", err)
	}
	batch := []archive.ProcessStatData{
		{PID: 1, Name: "init", ExecutionSeconds: 60, CPU: archive.Summarize([]float64{2})},
		{PID: 2, Name: "sshd", ExecutionSeconds: 30, Memory: archive.Summarize([]float64{12})},
	}
	if err := s.InsertProcessStats(t.Context(), batch); err != nil {
		t.Fatalf("InsertProcessStats returned error: %v", err)
	}
	if n := countRows(t, s, "gpu_archive"); n != 1 {
		t.Fatalf("expected 1 gpu row, got %d", n)
	}
	if n := countRows(t, s, "process_archive"); n != 2 {
		t.Fatalf("expected 2 process rows, got %d", n)
	}
}

func TestDeleteOldRespectsRetention(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.AddDate(0, 0, -40) }
	if err := s.InsertHardware(t.Context(), archive.HardwareData{}, archive.HardwareData{}); err != nil {
		t.Fatalf("InsertHardware returned error: %v", err)
	}
	s.now = func() time.Time { return now.AddDate(0, 0, -1) }
	if err := s.InsertHardware(t.Context(), archive.HardwareData{}, archive.HardwareData{}); err != nil {
		t.Fatalf("InsertHardware returned error: %v", err)
	}

	s.now = func() time.Time { return now }
	if err := s.DeleteOldHardware(t.Context(), 30); err != nil {
		t.Fatalf("DeleteOldHardware returned error: %v", err)
	}
	if n := countRows(t, s, "hardware_archive"); n != 1 {
		t.Fatalf("expected the recent row to survive, got %d rows", n)
	}
	if err := s.DeleteOldGPU(t.Context(), 0); err == nil {
		t.Fatal("expected error for non-positive retention")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open returned error: %v", err)
	}
	_ = first.Close()
	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open returned error: %v", err)
	}
	_ = second.Close()
}
