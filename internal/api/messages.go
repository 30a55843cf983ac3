// Package api defines the JSON payloads exchanged with HTTP and WebSocket
// clients.
package api

import (
	"github.com/skobkin/hwtelemetry/internal/hw"
	"github.com/skobkin/hwtelemetry/internal/sampler"
	"github.com/skobkin/hwtelemetry/internal/system"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string          `json:"type"`
	IntervalMS int             `json:"interval_ms"`
	Features   map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int, features map[string]bool) HelloMessage {
	return HelloMessage{Type: "hello", IntervalMS: intervalMS, Features: features}
}

// SnapshotMessage wraps a sampler snapshot for transport.
type SnapshotMessage struct {
	Type string `json:"type"`
	sampler.Snapshot
}

func NewSnapshotMessage(snap sampler.Snapshot) SnapshotMessage {
	return SnapshotMessage{Type: "snapshot", Snapshot: snap}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is the envelope for inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
}

type CPUResponse struct {
	UsagePct float64   `json:"usage_pct"`
	PerCore  []float64 `json:"per_core"`
}

type MemoryResponse struct {
	UsagePct float64       `json:"usage_pct"`
	Info     hw.MemoryInfo `json:"info"`
}

type GPUUsageResponse struct {
	UsagePct float64 `json:"usage_pct"`
}

// HistoryResponse carries samples newest first.
type HistoryResponse struct {
	Seconds int       `json:"seconds"`
	Values  []float64 `json:"values"`
}

type ProcessesResponse struct {
	Processes []system.Process `json:"processes"`
}

type GPUNamesResponse struct {
	Names []string `json:"names"`
}
