package lifecycle

import (
	"testing"
	"time"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
	if d := DrainingFor(time.Now()); d != 0 {
		t.Errorf("DrainingFor() = %v, want 0", d)
	}
}

func TestSetShuttingDown_RecordsStart(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Fatal("IsShuttingDown() = false after SetShuttingDown(true)")
	}
	first := DrainingFor(time.Now().Add(time.Minute))
	SetShuttingDown(true)
	if again := DrainingFor(time.Now().Add(time.Minute)); again < first-time.Second {
		t.Errorf("second SetShuttingDown(true) reset the start: %v < %v", again, first)
	}
	if first < 59*time.Second {
		t.Errorf("DrainingFor(+1m) = %v, want about 1m", first)
	}
}

func TestSetShuttingDown_False(t *testing.T) {
	SetShuttingDown(true)
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}
