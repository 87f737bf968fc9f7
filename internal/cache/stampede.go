package cache

import "sync"

// stampedeTracker counts misses per key that are still waiting on upstream.
// A count above one means several callers missed the same key at once.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// RecordMiss registers a miss for key and returns the concurrent miss count.
// Callers pair it with a deferred Resolve.
func (st *stampedeTracker) RecordMiss(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active[key]++
	return st.active[key]
}

// Resolve marks one outstanding miss for key as finished.
func (st *stampedeTracker) Resolve(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	n, ok := st.active[key]
	if !ok {
		return
	}
	if n <= 1 {
		delete(st.active, key)
		return
	}
	st.active[key] = n - 1
}
