package traffic

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewTracker(5*time.Minute, clock.now), clock
}

// TestTracker_Empty verifies counts are zero before anything is recorded.
func TestTracker_Empty(t *testing.T) {
	tr, _ := newTestTracker()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
	if f, total := tr.FailureRate(time.Minute); f != 0 || total != 0 {
		t.Errorf("FailureRate() = (%d, %d), want (0, 0)", f, total)
	}
}

// TestTracker_Counts verifies per-outcome and total counts.
func TestTracker_Counts(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Served)
	tr.Record(Served)
	tr.Record(Failed)
	tr.Record(Denied)

	if n := tr.RequestCount(time.Minute); n != 4 {
		t.Errorf("RequestCount() = %d, want 4", n)
	}
	if n := tr.Count(Denied, time.Minute); n != 1 {
		t.Errorf("Count(Denied) = %d, want 1", n)
	}
	f, total := tr.FailureRate(time.Minute)
	if f != 1 || total != 3 {
		t.Errorf("FailureRate() = (%d, %d), want (1, 3)", f, total)
	}
}

// TestTracker_Window verifies outcomes age out of a window.
func TestTracker_Window(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Failed)
	clock.advance(90 * time.Second)
	tr.Record(Served)

	if f, total := tr.FailureRate(time.Minute); f != 0 || total != 1 {
		t.Errorf("1m FailureRate() = (%d, %d), want (0, 1)", f, total)
	}
	if f, total := tr.FailureRate(2 * time.Minute); f != 1 || total != 2 {
		t.Errorf("2m FailureRate() = (%d, %d), want (1, 2)", f, total)
	}
}

// TestTracker_Retention verifies old outcomes are pruned on the next record.
func TestTracker_Retention(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(Served)
	clock.advance(6 * time.Minute)
	tr.Record(Served)

	if n := len(tr.times[Served]); n != 1 {
		t.Errorf("retained = %d, want 1", n)
	}
	if n := tr.RequestCount(time.Hour); n != 1 {
		t.Errorf("RequestCount(1h) = %d, want 1", n)
	}
}

// TestTracker_IgnoresUnknownOutcome verifies out-of-range outcomes are dropped.
func TestTracker_IgnoresUnknownOutcome(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Record(Outcome(7))
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestDefaultTracker verifies the package-level helpers share one tracker.
func TestDefaultTracker(t *testing.T) {
	Reset()
	defer Reset()
	Record(Served)
	RecordDenied()
	if n := RequestCount(time.Minute); n != 2 {
		t.Errorf("RequestCount() = %d, want 2", n)
	}
	if n := DenialCount(time.Minute); n != 1 {
		t.Errorf("DenialCount() = %d, want 1", n)
	}
	if f, total := FailureRate(time.Minute); f != 0 || total != 1 {
		t.Errorf("FailureRate() = (%d, %d), want (0, 1)", f, total)
	}
}
