// Package windows implements the hardware capability interfaces on top of
// WMI. The WMI client is bound in a windows-only file; everything else takes
// a QueryFunc so it runs against canned rows in tests.
package windows

import (
	"context"
	"fmt"
	"runtime"

	"github.com/skobkin/hwtelemetry/internal/hw"
)

// QueryFunc executes a WQL query and fills dst, a pointer to a slice of
// structs whose field names match the WMI properties.
type QueryFunc func(query string, dst any) error

type queryResult[T any] struct {
	rows []T
	err  error
}

// Query runs q on a dedicated goroutine locked to its OS thread, since the
// COM apartment behind WMI must not migrate between threads. The result
// comes back over a one-shot channel. A cancelled ctx returns early; the
// query itself still runs to completion on its own thread.
func Query[T any](ctx context.Context, fn QueryFunc, source, q string) ([]T, error) {
	if fn == nil {
		return nil, hw.Collect(source, fmt.Errorf("no wmi client"))
	}

	done := make(chan queryResult[T], 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		var res queryResult[T]
		defer func() {
			if r := recover(); r != nil {
				res = queryResult[T]{err: fmt.Errorf("wmi panic: %v", r)}
			}
			done <- res
		}()
		res.err = fn(q, &res.rows)
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, hw.Collect(source, res.err)
		}
		return res.rows, nil
	case <-ctx.Done():
		return nil, hw.Collect(source, ctx.Err())
	}
}
