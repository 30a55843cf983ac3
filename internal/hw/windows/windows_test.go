package windows

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/hwtelemetry/internal/execx"
	"github.com/skobkin/hwtelemetry/internal/gpu"
	"github.com/skobkin/hwtelemetry/internal/hw"
)

// fakeWMI answers queries by WMI class name. An error value fails the query.
func fakeWMI(tables map[string]any) QueryFunc {
	return func(query string, dst any) error {
		_, rest, _ := strings.Cut(query, " FROM ")
		class, _, _ := strings.Cut(rest, " ")
		rows, ok := tables[class]
		if !ok {
			return errors.New("invalid class")
		}
		if err, ok := rows.(error); ok {
			return err
		}
		reflect.ValueOf(dst).Elem().Set(reflect.ValueOf(rows))
		return nil
	}
}

func TestEngineUsageFirstMatchWins(t *testing.T) {
	t.Parallel()

	rows := []GPUEngineCounter{
		{Name: "pid_100_luid_0x0_0xD1A3_phys_0_eng_4_engtype_Copy", UtilizationPercentage: 90},
		{Name: "pid_100_luid_0x0_0xD1A3_phys_0_eng_0_engtype_3D", UtilizationPercentage: 12},
		{Name: "pid_200_luid_0x0_0xD1A3_phys_0_eng_0_engtype_3D", UtilizationPercentage: 55},
		{Name: "pid_300_luid_0x0_0xD1A3_phys_0_eng_1_engtype_VideoDecode", UtilizationPercentage: 70},
	}
	usage, ok := EngineUsage(rows, "3D")
	if !ok || usage != 12 {
		t.Fatalf("expected first 3D row, got %v %v", usage, ok)
	}
	if _, ok := EngineUsage(rows[:1], "3D"); ok {
		t.Fatal("expected no match without a 3D row")
	}
}

func TestSummarizeMemory(t *testing.T) {
	t.Parallel()

	modules := []PhysicalMemory{
		{Capacity: 16 << 30, ConfiguredClockSpeed: 3200, SMBIOSMemoryType: 26},
		{Capacity: 16 << 30, ConfiguredClockSpeed: 3200, SMBIOSMemoryType: 26},
	}
	info := SummarizeMemory(modules, []PhysicalMemoryArray{{MemoryDevices: 4}})
	if info.Size != "32.0 GB" || info.MemoryCount != 2 || info.TotalSlots != 4 {
		t.Fatalf("unexpected summary %+v", info)
	}
	if info.MemoryType != "DDR4" || info.Clock != 3200 || !info.IsDetailed {
		t.Fatalf("unexpected details %+v", info)
	}

	for code, want := range map[uint32]string{20: "DDR", 21: "DDR2", 24: "DDR3", 26: "DDR4", 34: "DDR5", 2: hw.Unknown} {
		if got := MemoryTypeName(code); got != want {
			t.Errorf("MemoryTypeName(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestNetworkFromAdapters(t *testing.T) {
	t.Parallel()

	rows := []NetworkAdapterConfiguration{
		{
			Description:      "Intel(R) Ethernet Connection",
			MACAddress:       "AA:BB:CC:DD:EE:FF",
			InterfaceIndex:   12,
			IPAddress:        []string{"192.168.1.10", "fe80::1c2d:3e4f:5a6b:7c8d", "2001:db8::10"},
			IPSubnet:         []string{"255.255.255.0", "64", "64"},
			DefaultIPGateway: []string{"192.168.1.1", "fe80::1"},
		},
		{
			Description:    "Hyper-V Virtual Ethernet Adapter",
			InterfaceIndex: 20,
			IPAddress:      []string{"fe80::aaaa"},
			IPSubnet:       []string{"64"},
		},
	}

	infos := NetworkFromAdapters(rows)
	if len(infos) != 1 {
		t.Fatalf("expected link-local-only adapter to be dropped, got %+v", infos)
	}
	info := infos[0]
	if info.MACAddress != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("unexpected mac %q", info.MACAddress)
	}
	if strings.Join(info.IPSubnet, ",") != "192.168.1.0/24,2001:db8::/64" {
		t.Fatalf("unexpected subnets %v", info.IPSubnet)
	}
	if len(info.DefaultIPv4Gateway) != 1 || len(info.DefaultIPv6Gateway) != 1 || len(info.LinkLocalIPv6) != 1 {
		t.Fatalf("unexpected classification %+v", info)
	}
}

func TestQueryRunsOnDedicatedThread(t *testing.T) {
	t.Parallel()

	rows, err := Query[ComputerSystem](t.Context(), fakeWMI(map[string]any{
		"Win32_ComputerSystem": []ComputerSystem{{TotalPhysicalMemory: 8 << 30}},
	}), "Win32_ComputerSystem", queryTotalMemory)
	if err != nil || len(rows) != 1 {
		t.Fatalf("unexpected result %+v, %v", rows, err)
	}

	_, err = Query[ComputerSystem](t.Context(), func(string, any) error { panic("com failure") }, "Win32_ComputerSystem", queryTotalMemory)
	var collErr *hw.CollectionError
	if !errors.As(err, &collErr) {
		t.Fatalf("expected panic to surface as collection error, got %v", err)
	}

	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = Query[ComputerSystem](ctx, func(string, any) error { <-release; return nil }, "Win32_ComputerSystem", queryTotalMemory)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestMemoryServiceFallsBackToCapacity(t *testing.T) {
	t.Parallel()

	svc := NewMemoryService(fakeWMI(map[string]any{
		"Win32_ComputerSystem": []ComputerSystem{{TotalPhysicalMemory: 8 << 30}},
		"Win32_PhysicalMemory": errors.New("access denied"),
	}), nil, nil)

	infos, err := svc.DetailedMemoryInfo(t.Context())
	if err != nil {
		t.Fatalf("DetailedMemoryInfo returned error: %v", err)
	}
	if len(infos) != 1 || infos[0].IsDetailed || infos[0].Size != "8.0 GB" {
		t.Fatalf("unexpected fallback %+v", infos)
	}
}

func TestGPUServiceFallbackChain(t *testing.T) {
	t.Parallel()

	query := fakeWMI(map[string]any{
		"Win32_PerfFormattedData_GPUPerformanceCounters_GPUEngine": []GPUEngineCounter{
			{Name: "pid_4_luid_0x0_0x1_phys_0_eng_0_engtype_3D", UtilizationPercentage: 41},
		},
		"Win32_VideoController": []VideoController{
			{Name: "NVIDIA GeForce RTX 3060", AdapterCompatibility: "NVIDIA", AdapterRAM: 1 << 30, DeviceID: "VideoController1"},
			{Name: "Intel(R) UHD Graphics 770", AdapterCompatibility: "Intel Corporation", DeviceID: "VideoController2"},
			{Name: "Parsec Virtual Display Adapter", AdapterCompatibility: "Parsec Cloud, Inc.", DeviceID: "VideoController3"},
		},
	})
	smi := gpu.NvidiaSMI{Runner: execx.RunnerFunc(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("executable file not found in %PATH%")
	})}
	svc := NewGPUService(query, smi, nil)

	usage, err := svc.GPUUsage(t.Context())
	if err != nil || usage != 41 {
		t.Fatalf("expected WMI fallback usage 41, got %v, %v", usage, err)
	}

	nvidia, err := svc.NvidiaGPUs(t.Context())
	if err != nil || len(nvidia) != 1 || nvidia[0].MemorySizeDedicated != "1.0 GiB" {
		t.Fatalf("unexpected nvidia list %+v, %v", nvidia, err)
	}

	all, err := svc.AllGPUs(t.Context())
	if err != nil {
		t.Fatalf("AllGPUs returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected only known vendors in AllGPUs, got %+v", all)
	}
}
