// Package location holds the currently viewed location and notifies subscribers when it changes.
package location

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

// Slot is durable storage for a single value. Implementations are best-effort.
type Slot interface {
	Load() (models.Location, bool, error)
	Save(models.Location) error
}

// Listener receives every new location.
type Listener func(models.Location)

type subscription struct {
	id uint64
	fn Listener
}

// Store is the single "currently viewed" location of one app instance.
type Store struct {
	// writeMu orders whole Set calls so the slot and subscribers see writes
	// in the same order as the value.
	writeMu sync.Mutex
	mu      sync.Mutex
	value   models.Location
	set     bool
	loaded  bool
	subs    []subscription
	nextID  uint64

	slot   Slot
	logger *zap.Logger
}

// NewStore returns an empty store. slot may be nil.
func NewStore(slot Slot, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{slot: slot, logger: logger}
}

// Get returns the current location. When nothing was set in this process the
// slot is consulted once; a read failure counts as absent.
func (s *Store) Get() (models.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set && !s.loaded && s.slot != nil {
		s.loaded = true
		v, ok, err := s.slot.Load()
		if err != nil {
			s.logger.Warn("location slot read failed", zap.Error(err))
		} else if ok {
			s.value, s.set = v, true
		}
	}
	return s.value, s.set
}

// Set replaces the current location and calls every subscriber registered at
// the time of the call, in subscription order, before returning.
// Concurrent calls are serialized; a listener must not call Set itself.
func (s *Store) Set(v models.Location) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.value, s.set = v, true
	snapshot := make([]subscription, len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()

	if s.slot != nil {
		if err := s.slot.Save(v); err != nil {
			s.logger.Warn("location slot write failed", zap.Error(err))
		}
	}
	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function may be called any number of times, including from within fn.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Store) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
