package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"go.uber.org/zap"
)

// RecordShutdownInFlight records how many requests were still running when shutdown began.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// FlushTelemetry closes the given resources in order and then syncs the
// logger. Metrics are pull-based and need no flush. Every failure is joined
// into the returned error; an expired ctx stops before the next closer.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("flush interrupted: %w", err))
			break
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if logger != nil {
		// Syncing a terminal stderr fails with EINVAL on Linux; nothing was lost.
		if err := logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
