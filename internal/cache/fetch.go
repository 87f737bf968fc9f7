package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// DefaultTTL is how long a fetched payload is served before it is refetched.
const DefaultTTL = 5 * time.Minute

// Fetcher performs the upstream request for a cache miss. It returns the
// payload to store; errors are never stored.
type Fetcher func(ctx context.Context) (json.RawMessage, error)

// Config configures a FetchCache.
type Config struct {
	// TTL is the freshness window. Zero means DefaultTTL.
	TTL time.Duration
	// CoalesceEnabled makes concurrent misses on one key share a single fetch.
	// When disabled every miss fetches and the last write to finish wins.
	CoalesceEnabled bool
	// CoalesceTimeout bounds how long a waiter blocks on a shared fetch. Zero means no bound beyond ctx.
	CoalesceTimeout time.Duration
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
	// Logger is used when the request context carries none.
	Logger *zap.Logger
}

// FetchCache serves upstream payloads from a Store for TTL after they were
// fetched and calls the fetcher otherwise.
type FetchCache struct {
	store     Store
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	coalescer *requestCoalescer
	stampede  *stampedeTracker
}

// NewFetchCache creates a FetchCache over store.
func NewFetchCache(store Store, cfg Config) *FetchCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	fc := &FetchCache{
		store:    store,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		logger:   cfg.Logger,
		stampede: newStampedeTracker(),
	}
	if cfg.CoalesceEnabled {
		fc.coalescer = newRequestCoalescer(cfg.CoalesceTimeout)
	}
	return fc
}

// TTL returns the freshness window.
func (c *FetchCache) TTL() time.Duration { return c.ttl }

// IsStale reports whether e is outside the freshness window at now.
// An entry exactly ttl old is stale.
func (c *FetchCache) IsStale(e Entry, now time.Time) bool {
	return now.UnixMilli()-e.FetchedAtEpochMillis >= c.ttl.Milliseconds()
}

// GetOrFetch returns the payload for key. A fresh entry is returned without
// calling fetch. Otherwise fetch runs, its payload is stored with the current
// time and returned. A failed fetch leaves the cache as it was and its error
// is returned unchanged.
func (c *FetchCache) GetOrFetch(ctx context.Context, key string, fetch Fetcher) (json.RawMessage, error) {
	logger := observability.LoggerFromContext(ctx, c.logger)
	op := observability.OperationLabel(key)

	if payload, ok := c.lookup(ctx, logger, key); ok {
		observability.CacheHitsTotal.WithLabelValues(op).Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return payload, nil
	}
	observability.CacheMissesTotal.WithLabelValues(op).Inc()

	concurrent := c.stampede.RecordMiss(key)
	defer c.stampede.Resolve(key)
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(op).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(op).Observe(float64(concurrent))
	}
	logger.Debug("cache miss, fetching upstream", zap.String("key", key))

	if c.coalescer == nil {
		return c.fetchAndStore(ctx, logger, key, fetch)
	}

	start := time.Now()
	payload, shared, err := c.coalescer.GetOrDo(ctx, key, func(runCtx context.Context) (json.RawMessage, error) {
		// A caller that queued behind a just-finished fetch may find a fresh entry.
		if p, ok := c.lookup(runCtx, logger, key); ok {
			return p, nil
		}
		return c.fetchAndStore(runCtx, logger, key, fetch)
	})
	if shared {
		observability.RequestCoalescingHitsTotal.WithLabelValues(op).Inc()
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(start).Seconds())
	}
	return payload, err
}

// lookup returns a fresh payload for key. Backend errors are logged and read as a miss.
func (c *FetchCache) lookup(ctx context.Context, logger *zap.Logger, key string) (json.RawMessage, bool) {
	start := time.Now()
	e, ok, err := c.store.Get(ctx, key)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(elapsed)
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(elapsed)
	if !ok || c.IsStale(e, c.now()) {
		return nil, false
	}
	return e.Payload, true
}

func (c *FetchCache) fetchAndStore(ctx context.Context, logger *zap.Logger, key string, fetch Fetcher) (json.RawMessage, error) {
	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	entry := Entry{Key: key, Payload: payload, FetchedAtEpochMillis: c.now().UnixMilli()}
	start := time.Now()
	if setErr := c.store.Set(ctx, entry); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(start).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(start).Seconds())
	}
	return payload, nil
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "refused"):
		return "connection"
	default:
		return "unknown"
	}
}
