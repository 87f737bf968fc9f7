package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// CityPrefetcher loads one city's feed through the fetch cache. Implemented by
// the service layer so the cache package does not depend on it.
type CityPrefetcher interface {
	PrefetchCity(ctx context.Context, city string) error
}

// Warmer keeps the feeds of frequently viewed cities in the cache.
type Warmer struct {
	fetcher CityPrefetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer that uses the given prefetcher and logger.
func NewWarmer(fetcher CityPrefetcher, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm prefetches every city concurrently. The returned error joins every failure.
func (w *Warmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if err := w.fetcher.PrefetchCity(ctx, city); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", city, err))
				mu.Unlock()
			}
		}(city)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at interval until ctx is done.
// Each tick goes through the fetch cache, so a city whose entry is still fresh
// is not refetched and may expire before the next tick.
func (w *Warmer) WarmPeriodic(ctx context.Context, cities []string, interval time.Duration) error {
	if err := w.Warm(ctx, cities); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, cities); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
