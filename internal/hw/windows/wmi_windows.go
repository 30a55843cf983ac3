//go:build windows

package windows

import (
	"github.com/StackExchange/wmi"
)

// DefaultQuery binds the WMI client for the local machine.
func DefaultQuery() QueryFunc {
	return func(query string, dst any) error {
		return wmi.Query(query, dst)
	}
}
