package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Entry is one cached upstream payload. FetchedAtEpochMillis is set when the
// payload was stored and drives staleness; the payload itself is opaque.
type Entry struct {
	Key                  string          `json:"key"`
	Payload              json.RawMessage `json:"payload"`
	FetchedAtEpochMillis int64           `json:"fetchedAt"`
}

// Age returns how old the entry is relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.FetchedAtEpochMillis) * time.Millisecond
}

// Store is a key-value backend for fetch entries. Get returns (entry, true, nil)
// when a value exists regardless of its age; freshness is decided by FetchCache.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
}

// InMemoryStore implements Store with a process-local map. Entries are never
// swept; a stale entry stays until the next successful fetch replaces it.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Entry)}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return e, ok, nil
}

// Set implements Store.Set. The write replaces any previous entry for the key.
func (s *InMemoryStore) Set(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[entry.Key] = entry
	return nil
}

// Len returns the number of stored entries, fresh or stale.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
