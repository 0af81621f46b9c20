// internal/browser/context.go
package browser

import (
	"context"
	"errors"
)

// CombineContext returns a context that carries the values of parent (such
// as the chromedp target) and ends when either parent or secondary ends.
// A deadline on secondary is copied so callers see context.DeadlineExceeded
// rather than context.Canceled when their own timeout fires.
func CombineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parent)
	deadline, hasDeadline := secondary.Deadline()
	if hasDeadline {
		var cancelDeadline context.CancelFunc
		combinedCtx, cancelDeadline = context.WithDeadline(combinedCtx, deadline)
		outer := cancel
		cancel = func() {
			cancelDeadline()
			outer()
		}
	}

	go func() {
		select {
		case <-secondary.Done():
			// The copied deadline fires on its own with DeadlineExceeded.
			if hasDeadline && errors.Is(secondary.Err(), context.DeadlineExceeded) {
				return
			}
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
