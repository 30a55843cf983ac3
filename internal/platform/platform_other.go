//go:build !linux && !darwin && !windows

package platform

import "github.com/skobkin/hwtelemetry/internal/hw"

func newPlatform(Options) (*Platform, error) {
	return nil, hw.ErrPlatformUnsupported
}
