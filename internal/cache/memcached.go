package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cespare/xxhash/v2"
)

const keyPrefix = "aq:"

// MemcachedStore implements Store using memcached. Keys are hashed because
// fetch keys may carry spaces and exceed memcached's 250 byte limit.
type MemcachedStore struct {
	client *memcache.Client
	ttl    time.Duration
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). ttl becomes the
// server-side expiration so stale entries eventually leave the cluster.
func NewMemcachedStore(addrs string, ttl, timeout time.Duration, maxIdleConns int) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client, ttl: ttl}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// hashedKey maps a fetch key onto a memcached-safe key.
func hashedKey(k string) string {
	return keyPrefix + strconv.FormatUint(xxhash.Sum64String(k), 16)
}

// Get implements Store.Get. A hash collision with a different key is reported as a miss.
func (s *MemcachedStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if ctx.Err() != nil {
		return Entry{}, false, ctx.Err()
	}
	item, err := s.client.Get(hashedKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(item.Value, &e); err != nil {
		return Entry{}, false, err
	}
	if e.Key != key {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set implements Store.Set.
func (s *MemcachedStore) Set(ctx context.Context, entry Entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{
		Key:        hashedKey(entry.Key),
		Value:      raw,
		Expiration: expirationSeconds(s.ttl),
	})
}

// expirationSeconds converts ttl to memcached's relative expiration, which
// caps at 30 days before being read as an absolute timestamp.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	exp := int32(ttl.Seconds())
	if exp <= 0 || exp > maxRelativeExp {
		return 3600
	}
	return exp
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
