package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultSchedule runs ingestion at the top of every hour.
const DefaultSchedule = "0 * * * *"

const jobTag = "ingest"

// Runner is a job the scheduler can run.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler runs a job on a cron schedule. Runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	expr      string
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	// runMu is held for the duration of a run.
	runMu sync.Mutex
}

// NewScheduler creates a Scheduler for runner. An empty expr means DefaultSchedule.
func NewScheduler(runner Runner, expr string, logger *zap.Logger) *Scheduler {
	if expr == "" {
		expr = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		expr:      expr,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the job and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Cron(s.expr).Tag(jobTag).SingletonMode().Do(s.run)
	if err != nil {
		return fmt.Errorf("schedule ingestion %q: %w", s.expr, err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("ingestion scheduled", zap.String("cron", s.expr))
	return nil
}

// RunNow triggers the job outside its schedule. It is skipped if a run is in progress.
func (s *Scheduler) RunNow() error {
	return s.scheduler.RunByTag(jobTag)
}

func (s *Scheduler) run() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.runner.Run(s.ctx); err != nil {
		s.logger.Warn("ingestion run ended early", zap.Error(err))
	}
}

// Stop cancels a run in progress, stops the scheduler and waits for the run to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
	s.runMu.Lock()
	defer s.runMu.Unlock()
}
