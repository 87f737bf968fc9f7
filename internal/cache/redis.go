package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
)

// RedisOption adjusts the client options before the connection is made.
type RedisOption func(*redis.Options)

func WithRedisPoolSize(n int) RedisOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithRedisDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithRedisPassword(p string) RedisOption {
	return func(o *redis.Options) { o.Password = p }
}

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to addr and verifies the connection with PING.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration, opts ...RedisOption) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisStore) key(k string) string {
	return keyPrefix + k
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry %q: %w", key, err)
	}
	return e, true, nil
}

// Set implements Store.Set. Entries expire server-side after twice the ttl so a
// stale entry can still be observed briefly, never served.
func (s *RedisStore) Set(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	var exp time.Duration
	if s.ttl > 0 {
		exp = 2 * s.ttl
	}
	if err := s.rdb.Set(ctx, s.key(entry.Key), raw, exp).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", entry.Key, err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (s *RedisStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client pool.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
