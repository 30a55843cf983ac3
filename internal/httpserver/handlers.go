package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/skobkin/hwtelemetry/internal/api"
	"github.com/skobkin/hwtelemetry/internal/hw"
	"github.com/skobkin/hwtelemetry/internal/monitor"
)

var errUnavailable = errors.New("service unavailable")

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cpu", s.handleCPU)
	mux.HandleFunc("GET /api/memory", s.handleMemory)
	mux.HandleFunc("GET /api/memory/detail", s.handleMemoryDetail)
	mux.HandleFunc("GET /api/gpus", s.handleGPUs)
	mux.HandleFunc("GET /api/gpus/usage", s.handleGPUUsage)
	mux.HandleFunc("GET /api/gpus/names", s.handleGPUNames)
	mux.HandleFunc("GET /api/network", s.handleNetwork)
	mux.HandleFunc("GET /api/processes", s.handleProcesses)
	mux.HandleFunc("GET /api/history/{metric}", s.handleHistory)
	mux.HandleFunc("GET /api/history/processes/{pid}/{metric}", s.handleProcessHistory)
	mux.HandleFunc("GET /api/history/gpus/{name}/{metric}", s.handleGPUHistory)
}

func (s *Server) handleCPU(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Resources
	if res == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.CPUResponse{
		UsagePct: res.OverallCPUUsage(),
		PerCore:  res.PerCPUUsage(),
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Services == nil || s.deps.Resources == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	info, err := s.deps.Services.Memory().MemoryInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.MemoryResponse{
		UsagePct: s.deps.Resources.MemoryUsage(),
		Info:     info,
	})
}

func (s *Server) handleMemoryDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Services == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	infos, err := s.deps.Services.Memory().DetailedMemoryInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, infos)
}

func (s *Server) handleGPUs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Services == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	svc := s.deps.Services.GPU()
	list := svc.AllGPUs
	switch r.URL.Query().Get("vendor") {
	case "":
	case "nvidia":
		list = svc.NvidiaGPUs
	case "amd":
		list = svc.AMDGPUs
	case "intel":
		list = svc.IntelGPUs
	default:
		s.writeJSON(w, r, http.StatusBadRequest, api.ErrorResponse{Error: "vendor must be one of nvidia, amd, intel"})
		return
	}
	gpus, err := list(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, gpus)
}

func (s *Server) handleGPUUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Services == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	usage, err := s.deps.Services.GPU().GPUUsage(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.GPUUsageResponse{UsagePct: usage})
}

func (s *Server) handleGPUNames(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.GPUNamesResponse{Names: s.deps.Resources.GPUNames()})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if s.deps.Services == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	infos, err := s.deps.Services.Network().NetworkInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, infos)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.ProcessesResponse{Processes: s.deps.Resources.Processes()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Resources
	if res == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	seconds, ok := s.seconds(w, r)
	if !ok {
		return
	}
	switch r.PathValue("metric") {
	case "cpu":
		s.writeHistory(w, r, seconds, res.CPUUsageHistory(seconds), true)
	case "memory":
		s.writeHistory(w, r, seconds, res.MemoryUsageHistory(seconds), true)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleProcessHistory(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Resources
	if res == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	pid, err := strconv.ParseInt(r.PathValue("pid"), 10, 32)
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, api.ErrorResponse{Error: "invalid pid"})
		return
	}
	seconds, ok := s.seconds(w, r)
	if !ok {
		return
	}
	var (
		values []float64
		found  bool
	)
	switch r.PathValue("metric") {
	case "cpu":
		values, found = res.ProcessCPUHistory(int32(pid), seconds)
	case "memory":
		values, found = res.ProcessMemoryHistory(int32(pid), seconds)
	default:
		http.NotFound(w, r)
		return
	}
	s.writeHistory(w, r, seconds, values, found)
}

func (s *Server) handleGPUHistory(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Resources
	if res == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	seconds, ok := s.seconds(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	var (
		values []float64
		found  bool
	)
	switch r.PathValue("metric") {
	case "usage":
		values, found = res.GPUUsageHistory(name, seconds)
	case "temperature":
		values, found = res.GPUTemperatureHistory(name, seconds)
	case "memory":
		values, found = res.GPUMemoryHistory(name, seconds)
	default:
		http.NotFound(w, r)
		return
	}
	s.writeHistory(w, r, seconds, values, found)
}

// seconds parses the optional ?seconds= window, capped at MaxQuerySeconds.
func (s *Server) seconds(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("seconds")
	if raw == "" {
		return monitor.MaxQuerySeconds, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		s.writeJSON(w, r, http.StatusBadRequest, api.ErrorResponse{Error: "seconds must be a positive integer"})
		return 0, false
	}
	return min(n, monitor.MaxQuerySeconds), true
}

func (s *Server) writeHistory(w http.ResponseWriter, r *http.Request, seconds int, values []float64, found bool) {
	if !found {
		s.writeJSON(w, r, http.StatusNotFound, api.ErrorResponse{Error: "no history for this key"})
		return
	}
	if values == nil {
		values = []float64{}
	}
	s.writeJSON(w, r, http.StatusOK, api.HistoryResponse{Seconds: seconds, Values: values})
}

// writeError maps core errors to HTTP statuses and client-facing strings.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusServiceUnavailable
	message := err.Error()

	var collErr *hw.CollectionError
	switch {
	case errors.Is(err, hw.ErrPlatformUnsupported):
		status = http.StatusNotImplemented
		message = "not supported on this platform"
	case errors.Is(err, hw.ErrNoDevice):
		status = http.StatusNotFound
		message = "no matching device found"
	case errors.As(err, &collErr):
		status = http.StatusBadGateway
		message = "could not read " + collErr.Source
	}

	s.loggerFromContext(r.Context()).Warn("request failed", "status", status, "err", err)
	s.writeJSON(w, r, status, api.ErrorResponse{Error: message})
}
