package gpu

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/skobkin/hwtelemetry/internal/execx"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

const nvidiaSMISource = "nvidia-smi"

var nvidiaQueryFields = []string{
	"index",
	"name",
	"utilization.gpu",
	"temperature.gpu",
	"memory.used",
	"memory.total",
	"clocks.gr",
	"pci.bus_id",
}

// NvidiaDevice is one row of nvidia-smi output. Pointer fields are nil when
// the driver reports "[N/A]" or "[Not Supported]".
type NvidiaDevice struct {
	Index         int
	Name          string
	UtilPct       *float64
	TempC         *float64
	MemoryUsedMB  *float64
	MemoryTotalMB *float64
	ClockMHz      *float64
	BusID         string
}

// NvidiaSMI is the NVIDIA vendor source on every platform.
type NvidiaSMI struct {
	Runner execx.Runner
	// Binary defaults to "nvidia-smi".
	Binary string
}

// Devices queries every NVIDIA GPU visible to the driver.
func (n NvidiaSMI) Devices(ctx context.Context) ([]NvidiaDevice, error) {
	if n.Runner == nil {
		return nil, hw.Collect(nvidiaSMISource, errors.New("no command runner"))
	}
	binary := n.Binary
	if binary == "" {
		binary = "nvidia-smi"
	}

	out, err := n.Runner.Run(ctx, binary,
		"--query-gpu="+strings.Join(nvidiaQueryFields, ","),
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return nil, hw.Collect(nvidiaSMISource, err)
	}
	devices, err := ParseNvidiaSMI(out)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, hw.Collect(nvidiaSMISource, hw.ErrNoDevice)
	}
	return devices, nil
}

// Usage averages utilization over every GPU that reports it.
func (n NvidiaSMI) Usage(ctx context.Context) (float64, error) {
	devices, err := n.Devices(ctx)
	if err != nil {
		return 0, err
	}
	var (
		sum   float64
		count int
	)
	for _, dev := range devices {
		if dev.UtilPct != nil {
			sum += *dev.UtilPct
			count++
		}
	}
	if count == 0 {
		return 0, hw.Unparsable(nvidiaSMISource, "no utilization reported")
	}
	return sum / float64(count), nil
}

// GPUs lists NVIDIA GPUs as GraphicInfo records.
func (n NvidiaSMI) GPUs(ctx context.Context) ([]hw.GraphicInfo, error) {
	devices, err := n.Devices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]hw.GraphicInfo, 0, len(devices))
	for _, dev := range devices {
		info := hw.GraphicInfo{
			ID:                  dev.BusID,
			Name:                dev.Name,
			VendorName:          string(VendorNvidia),
			MemorySize:          hw.Unknown,
			MemorySizeDedicated: hw.Unknown,
		}
		if info.ID == "" {
			info.ID = "nvidia" + strconv.Itoa(dev.Index)
		}
		if dev.ClockMHz != nil {
			info.Clock = uint32(*dev.ClockMHz)
		}
		if dev.MemoryTotalMB != nil {
			info.MemorySizeDedicated = hw.FormatBytes(uint64(*dev.MemoryTotalMB) << 20)
		}
		out = append(out, info)
	}
	return out, nil
}

// Stats reports per-GPU telemetry for the sampler.
func (n NvidiaSMI) Stats(ctx context.Context) ([]Stat, error) {
	devices, err := n.Devices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Stat, 0, len(devices))
	for _, dev := range devices {
		id := dev.BusID
		if id == "" {
			id = "nvidia" + strconv.Itoa(dev.Index)
		}
		out = append(out, Stat{
			ID:                id,
			Name:              dev.Name,
			UsagePct:          dev.UtilPct,
			TempC:             dev.TempC,
			DedicatedMemoryMB: dev.MemoryUsedMB,
		})
	}
	return out, nil
}

// ParseNvidiaSMI decodes `--format=csv,noheader,nounits` output for the
// fields in nvidiaQueryFields.
func ParseNvidiaSMI(data []byte) ([]NvidiaDevice, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, hw.Unparsable(nvidiaSMISource, err.Error())
	}

	devices := make([]NvidiaDevice, 0, len(records))
	for _, record := range records {
		if len(record) != len(nvidiaQueryFields) {
			return nil, hw.Unparsable(nvidiaSMISource, fmt.Sprintf("expected %d fields, got %d", len(nvidiaQueryFields), len(record)))
		}
		index, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, hw.Unparsable(nvidiaSMISource, "bad index "+strconv.Quote(record[0]))
		}
		devices = append(devices, NvidiaDevice{
			Index:         index,
			Name:          strings.TrimSpace(record[1]),
			UtilPct:       parseSMIValue(record[2]),
			TempC:         parseSMIValue(record[3]),
			MemoryUsedMB:  parseSMIValue(record[4]),
			MemoryTotalMB: parseSMIValue(record[5]),
			ClockMHz:      parseSMIValue(record[6]),
			BusID:         strings.TrimSpace(record[7]),
		})
	}
	return devices, nil
}

func parseSMIValue(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "[") {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &value
}
