package gpu

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	gpuBusyFilename     = "gpu_busy_percent"
	ppDpmSclkFilename   = "pp_dpm_sclk"
	debugPmInfoFilename = "amdgpu_pm_info"
	hwmonTempFile       = "temp1_input"
	vramUsedFilename    = "mem_info_vram_used"
	vramTotalFilename   = "mem_info_vram_total"
	gttTotalFilename    = "mem_info_gtt_total"
)

var (
	// Case-sensitive on purpose: "sclk" in lowercase is not the shader clock row.
	sclkPattern    = regexp.MustCompile(`SCLK.*?(\d+)\s+MHz`)
	gpuLoadPattern = regexp.MustCompile(`GPU Load:\s*(\d+(?:\.\d+)?)\s*%`)
	gpuTempPattern = regexp.MustCompile(`GPU Temperature:\s*(\d+(?:\.\d+)?)\s*C`)
)

// Stats is one telemetry reading of a card. Pointer fields are nil when the
// kernel did not expose the value.
type Stats struct {
	CardID         string   `json:"card_id"`
	Name           string   `json:"name"`
	Vendor         Vendor   `json:"vendor"`
	BusyPct        *float64 `json:"busy_pct"`
	SCLKMHz        *float64 `json:"sclk_mhz"`
	TempC          *float64 `json:"temp_c"`
	VRAMUsedBytes  *uint64  `json:"vram_used_bytes"`
	VRAMTotalBytes *uint64  `json:"vram_total_bytes"`
	GTTTotalBytes  *uint64  `json:"gtt_total_bytes"`
}

// Reader fetches telemetry for a single DRM card from sysfs, with debugfs
// as a fallback source.
type Reader struct {
	info         Info
	devicePath   string
	debugCardDir string
	hwmonPath    string
	logger       *slog.Logger
	readFile     func(name string) ([]byte, error)
}

// NewReader constructs a Reader for a discovered card.
func NewReader(info Info, sysfsRoot, debugfsRoot string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cardIndex, err := parseCardIndex(info.ID)
	if err != nil {
		return nil, err
	}

	devicePath := filepath.Join(sysfsRoot, drmClassPath, info.ID, "device")
	if _, err := os.Stat(devicePath); err != nil {
		return nil, fmt.Errorf("stat device path: %w", err)
	}

	return &Reader{
		info:         info,
		devicePath:   devicePath,
		debugCardDir: filepath.Join(debugfsRoot, "dri", strconv.Itoa(cardIndex)),
		hwmonPath:    detectHwmon(devicePath),
		logger:       logger.With("card", info.ID),
		readFile:     os.ReadFile,
	}, nil
}

// Info returns the card this reader samples.
func (r *Reader) Info() Info {
	return r.info
}

// Sample collects metrics for the card. Non-fatal read errors leave fields nil.
func (r *Reader) Sample() Stats {
	stats := Stats{
		CardID: r.info.ID,
		Name:   r.info.Name,
		Vendor: r.info.Vendor,
	}

	// amdgpu_pm_info is generated on every read, so it is read once per sample.
	pmInfo, err := r.readFile(filepath.Join(r.debugCardDir, debugPmInfoFilename))
	if err != nil {
		pmInfo = nil
	}

	stats.BusyPct = r.readPercent(filepath.Join(r.devicePath, gpuBusyFilename))
	stats.SCLKMHz = sclkFromPMInfo(pmInfo)
	if stats.SCLKMHz == nil {
		stats.SCLKMHz = r.readCurrentClock(ppDpmSclkFilename)
	}
	stats.VRAMUsedBytes = r.readUint(filepath.Join(r.devicePath, vramUsedFilename))
	stats.VRAMTotalBytes = r.readUint(filepath.Join(r.devicePath, vramTotalFilename))
	stats.GTTTotalBytes = r.readUint(filepath.Join(r.devicePath, gttTotalFilename))

	if r.hwmonPath != "" {
		stats.TempC = r.readScaledFloat(filepath.Join(r.hwmonPath, hwmonTempFile), 1000)
	}

	if pmInfo != nil {
		if stats.BusyPct == nil {
			stats.BusyPct = matchFloat(gpuLoadPattern, pmInfo)
		}
		if stats.TempC == nil {
			stats.TempC = matchFloat(gpuTempPattern, pmInfo)
		}
	}

	return stats
}

// sclkFromPMInfo extracts the shader clock from amdgpu_pm_info contents.
func sclkFromPMInfo(data []byte) *float64 {
	if data == nil {
		return nil
	}
	mhz, ok := ParseSCLK(data)
	if !ok {
		return nil
	}
	value := float64(mhz)
	return &value
}

// ParseSCLK extracts the first SCLK value in MHz from amdgpu_pm_info output.
func ParseSCLK(data []byte) (uint32, bool) {
	match := sclkPattern.FindSubmatch(data)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseUint(string(match[1]), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(value), true
}

func (r *Reader) readPercent(path string) *float64 {
	value, err := r.readFloatValue(path)
	if err != nil || value < 0 {
		return nil
	}
	if value > 100 {
		// Some kernels report busy % scaled by 100.
		value = clamp(value/100, 0, 100)
	}
	return &value
}

func (r *Reader) readCurrentClock(filename string) *float64 {
	raw, err := r.readFile(filepath.Join(r.devicePath, filename))
	if err != nil {
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "*") {
			continue
		}
		if clock, ok := extractClockMHz(line); ok {
			return &clock
		}
	}
	return nil
}

func (r *Reader) readUint(path string) *uint64 {
	data, err := r.readFile(path)
	if err != nil {
		return nil
	}
	valueStr := strings.TrimSpace(string(data))
	if valueStr == "" {
		return nil
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		r.logger.Debug("failed to parse uint value", "path", path, "value", valueStr, "err", err)
		return nil
	}
	return &value
}

func (r *Reader) readScaledFloat(path string, divisor float64) *float64 {
	value, err := r.readFloatValue(path)
	if err != nil {
		return nil
	}
	value /= divisor
	return &value
}

func (r *Reader) readFloatValue(path string) (float64, error) {
	data, err := r.readFile(path)
	if err != nil {
		return 0, err
	}
	valueStr := strings.TrimSpace(string(data))
	if valueStr == "" {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}

func matchFloat(pattern *regexp.Regexp, data []byte) *float64 {
	match := pattern.FindSubmatch(data)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(string(match[1]), 64)
	if err != nil {
		return nil
	}
	return &value
}

func detectHwmon(devicePath string) string {
	hwmonRoot := filepath.Join(devicePath, "hwmon")
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return filepath.Join(hwmonRoot, entry.Name())
		}
	}
	return ""
}

func parseCardIndex(cardID string) (int, error) {
	if !strings.HasPrefix(cardID, "card") {
		return 0, fmt.Errorf("invalid card id %q", cardID)
	}
	index, err := strconv.Atoi(cardID[len("card"):])
	if err != nil {
		return 0, fmt.Errorf("parse card index: %w", err)
	}
	return index, nil
}

func extractClockMHz(line string) (float64, bool) {
	for _, field := range strings.Fields(strings.TrimSpace(line)) {
		field = strings.ToLower(strings.TrimSuffix(field, "*"))
		if !strings.HasSuffix(field, "mhz") {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSuffix(field, "mhz"), 64)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}

func clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}
