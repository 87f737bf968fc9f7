// Package traffic keeps short sliding windows of request outcomes. Health uses
// the upstream failure rate; metrics expose load and rate-limit rejections.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome int

const (
	// Served is a request answered without an upstream failure.
	Served Outcome = iota
	// Failed is a request that surfaced an upstream failure (502/503).
	Failed
	// Denied is a request rejected by the rate limiter (429).
	Denied
)

// DefaultRetention bounds how far back any window can look.
const DefaultRetention = 5 * time.Minute

var defaultTracker = NewTracker(DefaultRetention, nil)

// Record adds an outcome to the process-wide tracker.
func Record(o Outcome) { defaultTracker.Record(o) }

// RecordDenied records a rate-limit denial.
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns all outcomes recorded within window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns denials recorded within window.
func DenialCount(window time.Duration) int { return defaultTracker.Count(Denied, window) }

// FailureRate returns upstream failures and served+failed totals within window.
func FailureRate(window time.Duration) (failed, total int) { return defaultTracker.FailureRate(window) }

// Reset clears the process-wide tracker. For tests.
func Reset() { defaultTracker.Reset() }

// Tracker holds outcome timestamps, oldest first, for at most retention.
type Tracker struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	times     [3][]time.Time
}

// NewTracker creates a tracker. now defaults to time.Now.
func NewTracker(retention time.Duration, now func() time.Time) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{retention: retention, now: now}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	if o < Served || o > Denied {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns outcomes of kind o within window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

// RequestCount returns outcomes of every kind within window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, ts := range t.times {
		n += countSince(ts, cutoff)
	}
	return n
}

// FailureRate returns (failed, served+failed) within window. Denials are excluded.
func (t *Tracker) FailureRate(window time.Duration) (failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failed = countSince(t.times[Failed], cutoff)
	return failed, failed + countSince(t.times[Served], cutoff)
}

// Reset drops every recorded outcome.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = [3][]time.Time{}
}

// countSince counts timestamps at or after cutoff. ts is sorted ascending.
func countSince(ts []time.Time, cutoff time.Time) int {
	lo, hi := 0, len(ts)
	for lo < hi {
		mid := (lo + hi) / 2
		if ts[mid].Before(cutoff) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return len(ts) - lo
}

// pruneLocked drops timestamps older than retention. Caller holds mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for i := range t.times {
		ts := t.times[i]
		j := 0
		for j < len(ts) && ts[j].Before(cutoff) {
			j++
		}
		if j > 0 {
			t.times[i] = append(ts[:0], ts[j:]...)
		}
	}
}
