package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestFlushTelemetry_ClosesInOrder(t *testing.T) {
	var order []string
	a := closerFunc(func() error { order = append(order, "a"); return nil })
	b := closerFunc(func() error { order = append(order, "b"); return errors.New("b failed") })
	c := closerFunc(func() error { order = append(order, "c"); return nil })

	err := FlushTelemetry(context.Background(), zap.NewNop(), a, nil, b, c)
	if err == nil || err.Error() != "b failed" {
		t.Errorf("FlushTelemetry() error = %v, want b failed", err)
	}
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Errorf("close order = %v", order)
	}
}

func TestFlushTelemetry_StopsOnExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	closed := false

	err := FlushTelemetry(ctx, nil, closerFunc(func() error { closed = true; return nil }))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FlushTelemetry() error = %v, want context.Canceled", err)
	}
	if closed {
		t.Error("closer ran after context expired")
	}
}

func TestRecordShutdownInFlight(t *testing.T) {
	RecordShutdownInFlight(3)
	if got := testutil.ToFloat64(ShutdownInFlightRequests); got != 3 {
		t.Errorf("shutdownInFlightRequests = %v, want 3", got)
	}
	RecordShutdownInFlight(0)
}
