// Package lifecycle holds the process drain flag read by the health endpoint.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// drainingSince is the Unix millisecond time shutdown began, or 0.
var drainingSince atomic.Int64

// SetShuttingDown sets or clears the drain flag. Health answers 503 shutting-down while set.
func SetShuttingDown(v bool) {
	if v {
		drainingSince.CompareAndSwap(0, time.Now().UnixMilli())
		return
	}
	drainingSince.Store(0)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return drainingSince.Load() != 0
}

// DrainingFor returns how long the process has been draining, or 0.
func DrainingFor(now time.Time) time.Duration {
	ms := drainingSince.Load()
	if ms == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(ms))
}
