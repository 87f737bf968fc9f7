package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// inFlightFetch is a single upstream fetch that several callers may wait on.
type inFlightFetch struct {
	done    chan struct{}
	payload json.RawMessage
	err     error
}

// requestCoalescer ensures at most one fetch per key runs at a time.
// Later callers for the same key wait for the first caller's result.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightFetch),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a run is already in flight, in which case it
// waits for that run. shared reports whether the result came from another
// caller's run. The fetch itself runs detached from the caller's cancellation
// so one caller giving up does not fail everyone waiting on it.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (json.RawMessage, error)) (payload json.RawMessage, shared bool, err error) {
	rc.mu.Lock()
	f, exists := rc.inFlight[key]
	if !exists {
		f = &inFlightFetch{done: make(chan struct{})}
		rc.inFlight[key] = f
		runCtx := context.WithoutCancel(ctx)
		go func() {
			f.payload, f.err = fn(runCtx)
			rc.mu.Lock()
			delete(rc.inFlight, key)
			rc.mu.Unlock()
			close(f.done)
		}()
	}
	rc.mu.Unlock()

	waitCtx := ctx
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}
	select {
	case <-f.done:
		return f.payload, exists, f.err
	case <-waitCtx.Done():
		return nil, exists, waitCtx.Err()
	}
}

// inFlightCount returns the number of keys currently being fetched.
func (rc *requestCoalescer) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
