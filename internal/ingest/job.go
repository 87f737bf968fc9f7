// Package ingest pulls station feeds in bulk and stores them as station documents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/normalize"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

// Defaults for a Job.
const (
	DefaultFrom        = 1
	DefaultTo          = 15000
	DefaultConcurrency = 8
	DefaultTimeout     = 15 * time.Second
)

// StationFetcher loads one station feed by index.
type StationFetcher interface {
	StationFeed(ctx context.Context, uid int) (client.StationFeed, error)
}

// Config bounds a run.
type Config struct {
	From, To    int
	Concurrency int
	// Timeout applies to each station, not to the run.
	Timeout time.Duration
}

// Result counts the outcome of one run.
type Result struct {
	Attempted int
	Stored    int
	Missing   int
	Failed    int
	Duration  time.Duration
}

// Job re-pulls a fixed range of station indices and upserts them.
type Job struct {
	fetcher StationFetcher
	repo    store.Repository
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
}

// NewJob creates a Job. Zero config fields take the package defaults.
func NewJob(fetcher StationFetcher, repo store.Repository, cfg Config, logger *zap.Logger) (*Job, error) {
	if fetcher == nil || repo == nil {
		return nil, errors.New("ingest: fetcher and repository are required")
	}
	if cfg.From <= 0 {
		cfg.From = DefaultFrom
	}
	if cfg.To <= 0 {
		cfg.To = DefaultTo
	}
	if cfg.To < cfg.From {
		return nil, fmt.Errorf("ingest: range %d..%d is empty", cfg.From, cfg.To)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{fetcher: fetcher, repo: repo, cfg: cfg, now: time.Now, logger: logger}, nil
}

// Run processes every index in the range. A failing index is logged and
// counted; it never stops the batch. The error is non-nil only when ctx ends
// before the range is done.
func (j *Job) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	j.logger.Info("ingestion started", zap.Int("from", j.cfg.From), zap.Int("to", j.cfg.To))

	var attempted, stored, missing, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(j.cfg.Concurrency)

	for uid := j.cfg.From; uid <= j.cfg.To; uid++ {
		if ctx.Err() != nil {
			break
		}
		uid := uid
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			attempted.Add(1)
			switch err := j.ingestOne(ctx, uid); {
			case err == nil:
				stored.Add(1)
				observability.IngestStationsTotal.WithLabelValues("stored").Inc()
			case client.IsNotFound(err):
				missing.Add(1)
				observability.IngestStationsTotal.WithLabelValues("missing").Inc()
			default:
				failed.Add(1)
				observability.IngestStationsTotal.WithLabelValues("failed").Inc()
				j.logger.Warn("station ingestion failed", zap.Int("uid", uid), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Attempted: int(attempted.Load()),
		Stored:    int(stored.Load()),
		Missing:   int(missing.Load()),
		Failed:    int(failed.Load()),
		Duration:  time.Since(start),
	}
	observability.IngestRunDurationSeconds.Observe(res.Duration.Seconds())

	outcome := "success"
	switch {
	case ctx.Err() != nil:
		outcome = "canceled"
	case res.Failed > 0:
		outcome = "partial"
	}
	observability.IngestRunsTotal.WithLabelValues(outcome).Inc()

	j.logger.Info("ingestion finished",
		zap.String("outcome", outcome),
		zap.Int("attempted", res.Attempted),
		zap.Int("stored", res.Stored),
		zap.Int("missing", res.Missing),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("ingestion interrupted: %w", err)
	}
	return res, nil
}

func (j *Job) ingestOne(ctx context.Context, uid int) error {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	feed, err := j.fetcher.StationFeed(ctx, uid)
	if err != nil {
		return err
	}
	rec := normalize.Station(feed)
	if rec.Idx == 0 {
		rec.Idx = uid
	}
	if err := j.repo.Upsert(ctx, store.FromRecord(rec, j.now())); err != nil {
		return fmt.Errorf("store station %d: %w", uid, err)
	}
	return nil
}
