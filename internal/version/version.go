// Package version tracks build metadata for the binaries.
package version

import (
	"runtime"
	"sync"
)

// Info describes build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	mu   sync.RWMutex
	info = Info{Version: "dev"}
)

// Set replaces the build metadata. Runtime fields are always filled in.
func Set(v Info) {
	mu.Lock()
	defer mu.Unlock()
	if v.Version == "" {
		v.Version = "dev"
	}
	info = v
}

// Current returns the build metadata with the Go runtime and target platform.
func Current() Info {
	mu.RLock()
	defer mu.RUnlock()
	out := info
	out.GoVersion = runtime.Version()
	out.Platform = runtime.GOOS + "/" + runtime.GOARCH
	return out
}
