package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	runs    atomic.Int32
	release chan struct{}
	sawDone atomic.Bool
}

func (r *countingRunner) Run(ctx context.Context) (Result, error) {
	r.runs.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			r.sawDone.Store(true)
			return Result{}, ctx.Err()
		}
	}
	return Result{}, nil
}

func TestScheduler_InvalidExpression(t *testing.T) {
	s := NewScheduler(&countingRunner{}, "not a cron", nil)
	defer s.Stop()
	assert.Error(t, s.Start())
}

func TestScheduler_DefaultExpression(t *testing.T) {
	s := NewScheduler(&countingRunner{}, "", nil)
	assert.Equal(t, DefaultSchedule, s.expr)
}

func TestScheduler_RunNow(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, DefaultSchedule, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.RunNow())
	assert.Eventually(t, func() bool { return runner.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopCancelsRun(t *testing.T) {
	runner := &countingRunner{release: make(chan struct{})}
	s := NewScheduler(runner, DefaultSchedule, nil)
	require.NoError(t, s.Start())

	require.NoError(t, s.RunNow())
	require.Eventually(t, func() bool { return runner.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.True(t, runner.sawDone.Load(), "run should observe cancellation before Stop returns")
}
