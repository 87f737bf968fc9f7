package location

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

var mumbai = models.Location{City: "mumbai", Station: "Chakala-Andheri East", State: "Mumbai", Country: "India"}

// TestStore_GetEmpty verifies an unset store without a slot reports absent.
func TestStore_GetEmpty(t *testing.T) {
	s := NewStore(nil, nil)
	if _, ok := s.Get(); ok {
		t.Error("Get() ok = true on empty store")
	}
}

// TestStore_LastWriteWins verifies Get returns the latest Set.
func TestStore_LastWriteWins(t *testing.T) {
	s := NewStore(nil, nil)
	s.Set(models.Location{City: "delhi"})
	s.Set(mumbai)
	got, ok := s.Get()
	if !ok || got != mumbai {
		t.Errorf("Get() = (%+v, %v), want mumbai", got, ok)
	}
}

// TestStore_NotifiesInOrder verifies synchronous notification in subscription order.
func TestStore_NotifiesInOrder(t *testing.T) {
	s := NewStore(nil, nil)
	var calls []string
	s.Subscribe(func(l models.Location) { calls = append(calls, "a:"+l.City) })
	s.Subscribe(func(l models.Location) { calls = append(calls, "b:"+l.City) })

	s.Set(mumbai)
	if len(calls) != 2 || calls[0] != "a:mumbai" || calls[1] != "b:mumbai" {
		t.Errorf("calls = %v", calls)
	}
}

// TestStore_UnsubscribeDuringNotify verifies that a subscriber removing itself
// while being notified does not skip the next subscriber.
func TestStore_UnsubscribeDuringNotify(t *testing.T) {
	s := NewStore(nil, nil)
	var aCalls int
	var bGot []models.Location

	var unsubA func()
	unsubA = s.Subscribe(func(models.Location) {
		aCalls++
		unsubA()
	})
	s.Subscribe(func(l models.Location) { bGot = append(bGot, l) })

	s.Set(mumbai)
	if len(bGot) != 1 || bGot[0] != mumbai {
		t.Fatalf("B notified with %v, want [mumbai]", bGot)
	}
	s.Set(models.Location{City: "pune"})
	if aCalls != 1 {
		t.Errorf("A called %d times, want 1", aCalls)
	}
	if len(bGot) != 2 {
		t.Errorf("B called %d times, want 2", len(bGot))
	}
}

// TestStore_UnsubscribeIdempotent verifies repeated unsubscribe leaves other subscribers alone.
func TestStore_UnsubscribeIdempotent(t *testing.T) {
	s := NewStore(nil, nil)
	unsub := s.Subscribe(func(models.Location) {})
	s.Subscribe(func(models.Location) {})

	unsub()
	unsub()
	unsub()
	if n := s.Subscribers(); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
}

// TestStore_SubscribeDuringNotify verifies a subscriber added mid-notification
// only sees later values.
func TestStore_SubscribeDuringNotify(t *testing.T) {
	s := NewStore(nil, nil)
	var late int
	var once bool
	s.Subscribe(func(models.Location) {
		if !once {
			once = true
			s.Subscribe(func(models.Location) { late++ })
		}
	})
	s.Set(mumbai)
	if late != 0 {
		t.Errorf("late subscriber called %d times during first Set", late)
	}
	s.Set(mumbai)
	if late != 1 {
		t.Errorf("late subscriber called %d times, want 1", late)
	}
}

type memSlot struct {
	v       models.Location
	ok      bool
	loadErr error
	saveErr error
	loads   int
	saves   int
}

func (m *memSlot) Load() (models.Location, bool, error) {
	m.loads++
	return m.v, m.ok, m.loadErr
}

func (m *memSlot) Save(v models.Location) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.v, m.ok = v, true
	return nil
}

// TestStore_SlotRestore verifies the slot is read lazily and only once.
func TestStore_SlotRestore(t *testing.T) {
	slot := &memSlot{v: mumbai, ok: true}
	s := NewStore(slot, nil)
	got, ok := s.Get()
	if !ok || got != mumbai {
		t.Errorf("Get() = (%+v, %v)", got, ok)
	}
	s.Get()
	if slot.loads != 1 {
		t.Errorf("slot loaded %d times, want 1", slot.loads)
	}
}

// TestStore_SlotFailures verifies slot errors are logged and never surface.
func TestStore_SlotFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	slot := &memSlot{loadErr: errors.New("corrupt"), saveErr: errors.New("disk full")}
	s := NewStore(slot, zap.New(core))

	if _, ok := s.Get(); ok {
		t.Error("Get() ok = true after read failure")
	}
	s.Set(mumbai)
	if got, ok := s.Get(); !ok || got != mumbai {
		t.Errorf("Get() after failed save = (%+v, %v)", got, ok)
	}
	if logs.FilterMessage("location slot read failed").Len() != 1 {
		t.Error("missing read failure log")
	}
	if logs.FilterMessage("location slot write failed").Len() != 1 {
		t.Error("missing write failure log")
	}
}

// gatedSlot blocks the first Save until release is closed.
type gatedSlot struct {
	mu      sync.Mutex
	v       models.Location
	entered chan struct{}
	release chan struct{}
	first   bool
}

func (g *gatedSlot) Load() (models.Location, bool, error) { return models.Location{}, false, nil }

func (g *gatedSlot) Save(v models.Location) error {
	g.mu.Lock()
	wait := !g.first
	g.first = true
	g.mu.Unlock()
	if wait {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
	return nil
}

// TestStore_ConcurrentSetLastWriteWins verifies that a Set racing a slow slot
// write leaves the value, the slot and subscribers agreeing on the later write.
func TestStore_ConcurrentSetLastWriteWins(t *testing.T) {
	slot := &gatedSlot{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewStore(slot, nil)
	var (
		mu           sync.Mutex
		lastNotified string
	)
	s.Subscribe(func(l models.Location) {
		mu.Lock()
		lastNotified = l.City
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Set(models.Location{City: "delhi"})
	}()
	<-slot.entered
	go func() {
		defer wg.Done()
		s.Set(models.Location{City: "pune"})
	}()
	time.Sleep(20 * time.Millisecond)
	close(slot.release)
	wg.Wait()

	got, _ := s.Get()
	slot.mu.Lock()
	saved := slot.v.City
	slot.mu.Unlock()
	mu.Lock()
	notified := lastNotified
	mu.Unlock()
	if got.City != "pune" || saved != "pune" || notified != "pune" {
		t.Errorf("Get() = %q, slot = %q, last notified = %q; want all pune", got.City, saved, notified)
	}
}

// TestFileSlot verifies that a saved location is restored by a new store.
func TestFileSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "location.json")
	slot := NewFileSlot(path)

	if _, ok, err := slot.Load(); ok || err != nil {
		t.Fatalf("Load() on missing file = (%v, %v)", ok, err)
	}

	NewStore(slot, nil).Set(mumbai)

	got, ok := NewStore(NewFileSlot(path), nil).Get()
	if !ok || got != mumbai {
		t.Errorf("restored = (%+v, %v), want mumbai", got, ok)
	}
}

// TestFileSlot_Corrupt verifies a malformed file reads as an error.
func TestFileSlot_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "location.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := NewFileSlot(path).Load(); ok || err == nil {
		t.Errorf("Load() = (%v, %v), want error", ok, err)
	}
}
