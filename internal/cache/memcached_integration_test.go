//go:build integration
// +build integration

package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// TestMemcachedStore_GetSet_Integration verifies that MemcachedStore stores and
// retrieves entries when a memcached server is available.
func TestMemcachedStore_GetSet_Integration(t *testing.T) {
	s := NewMemcachedStore("localhost:11211", time.Minute, 500*time.Millisecond, 2)
	defer s.Close()

	ctx := context.Background()
	e := Entry{Key: "feed|new delhi", Payload: json.RawMessage(`{"aqi":180}`), FetchedAtEpochMillis: time.Now().UnixMilli()}
	if err := s.Set(ctx, e); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}

	got, ok, err := s.Get(ctx, "feed|new delhi")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got.Payload) != string(e.Payload) {
		t.Errorf("Get() payload = %s, want %s", got.Payload, e.Payload)
	}
}

// TestMemcachedStore_Get_Miss_Integration verifies that an unknown key is a miss.
func TestMemcachedStore_Get_Miss_Integration(t *testing.T) {
	s := NewMemcachedStore("localhost:11211", time.Minute, 500*time.Millisecond, 2)
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "feed|nonexistent")
	if err != nil {
		t.Skipf("Get failed (memcached may not be running): %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}
