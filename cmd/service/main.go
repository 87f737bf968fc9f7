package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/config"
	httphandler "github.com/kjstillabower/airquality-dashboard/internal/http"
	"github.com/kjstillabower/airquality-dashboard/internal/ingest"
	"github.com/kjstillabower/airquality-dashboard/internal/lifecycle"
	"github.com/kjstillabower/airquality-dashboard/internal/location"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

const breakerName = "waqi_api"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	observability.SetTrackedCities(cfg.TrackedCities)
	observability.RegisterRateLimitGauges(cfg.HealthWindow)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	var (
		closers   []io.Closer
		cachePing func() error
		backend   cache.Store
	)
	switch cfg.CacheBackend {
	case config.CacheMemcached:
		mc := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.CacheTTL, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		backend, cachePing = mc, mc.Ping
		closers = append(closers, mc)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case config.CacheRedis:
		rs, err := cache.NewRedisStore(startupCtx, cfg.RedisAddr, cfg.CacheTTL,
			cache.WithRedisPoolSize(cfg.RedisPoolSize),
			cache.WithRedisDialTimeout(cfg.RedisDialTimeout),
			cache.WithRedisPassword(cfg.RedisPassword),
		)
		if err != nil {
			logger.Fatal("redis cache", zap.Error(err))
		}
		backend, cachePing = rs, rs.Ping
		closers = append(closers, rs)
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		backend = cache.NewInMemoryStore()
		logger.Info("cache backend: in_memory")
	}
	fetchCache := cache.NewFetchCache(backend, cache.Config{
		TTL:             cfg.CacheTTL,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          logger,
	})

	waqi, err := client.New(cfg.WAQIToken, cfg.WAQIBaseURL, cfg.WAQITimeout, fetchCache)
	if err != nil {
		logger.Fatal("waqi client", zap.Error(err))
	}

	var breakerState func() gobreaker.State
	if cfg.BreakerEnabled {
		cb := circuitbreaker.New[json.RawMessage](circuitbreaker.Config{
			Name:             breakerName,
			FailureThreshold: cfg.BreakerFailureThreshold,
			Timeout:          cfg.BreakerOpenTimeout,
			IsFailure:        client.IsBreakerFailure,
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), circuitbreaker.StateValue(to))
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		waqi.SetCircuitBreaker(cb)
		breakerState = cb.State
		observability.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Uint32("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.BreakerOpenTimeout))
	}

	if err := waqi.ValidateToken(startupCtx); err != nil {
		if errors.Is(err, client.ErrInvalidToken) {
			logger.Fatal("waqi token rejected", zap.Error(err))
		}
		logger.Warn("waqi token not validated; upstream unreachable at startup", zap.Error(err))
	}

	var slot location.Slot
	if cfg.LocationSlotPath != "" {
		slot = location.NewFileSlot(cfg.LocationSlotPath)
	}
	selected := location.NewStore(slot, logger)
	unsubscribe := selected.Subscribe(func(loc models.Location) {
		logger.Info("selected location changed",
			zap.String("city", loc.City),
			zap.String("station", loc.Station),
			zap.Int("idx", loc.Idx))
	})
	defer unsubscribe()
	svc, err := service.NewAirQualityService(waqi, service.Options{
		RankingMemoSize: cfg.RankingMemoSize,
		Location:        selected,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("service", zap.Error(err))
	}

	var (
		repo   store.Repository
		pool   *pgxpool.Pool
		dbPing func(ctx context.Context) error
	)
	if cfg.DatabaseURL != "" {
		pool, err = store.Connect(startupCtx, store.DatabaseConfig{
			URL:            cfg.DatabaseURL,
			ConnectRetries: cfg.DatabaseConnectRetries,
		}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		pg := store.NewPostgresRepository(pool)
		if err := pg.Migrate(startupCtx); err != nil {
			logger.Fatal("database migration", zap.Error(err))
		}
		repo, dbPing = pg, pg.Ping
		logger.Info("station store: postgres")
	} else {
		repo = store.NewMemoryRepository()
		logger.Info("station store: in_memory")
	}

	handler := httphandler.NewHandler(svc, repo, &httphandler.HealthConfig{
		FailureWindow: cfg.HealthWindow,
		FailurePct:    cfg.HealthFailurePct,
		BreakerState:  breakerState,
		CachePing:     cachePing,
		DatabasePing:  dbPing,
	}, logger)

	var scheduler *ingest.Scheduler
	if cfg.IngestEnabled {
		job, err := ingest.NewJob(waqi, repo, ingest.Config{
			From:        cfg.IngestFrom,
			To:          cfg.IngestTo,
			Concurrency: cfg.IngestConcurrency,
		}, logger)
		if err != nil {
			logger.Fatal("ingest job", zap.Error(err))
		}
		scheduler = ingest.NewScheduler(job, cfg.IngestSchedule, logger)
		if err := scheduler.Start(); err != nil {
			logger.Fatal("ingest scheduler", zap.Error(err))
		}
		handler.SetIngestTrigger(scheduler)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()
	if len(cfg.TrackedCities) > 0 {
		warmer := cache.NewWarmer(svc, logger)
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(appCtx, cfg.TrackedCities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else if err := warmer.Warm(startupCtx, cfg.TrackedCities); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	appCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	if pool != nil {
		pool.Close()
	}
	if err := observability.FlushTelemetry(shutdownCtx, logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
