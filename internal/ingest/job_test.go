package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    []int
	errs     map[int]error
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (f *fakeFetcher) StationFeed(ctx context.Context, uid int) (client.StationFeed, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return client.StationFeed{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, uid)
	err := f.errs[uid]
	f.mu.Unlock()
	if err != nil {
		return client.StationFeed{}, err
	}
	raw := fmt.Sprintf(`{"aqi":"%d","idx":%d,"city":{"name":"Station %d, State, Country"},"iaqi":{"PM25":{"v":%d}}}`, uid*10, uid, uid, uid)
	p, err := client.Decode(client.KindStation, json.RawMessage(raw))
	if err != nil {
		return client.StationFeed{}, err
	}
	return p.(client.StationFeed), nil
}

type failingRepo struct {
	*store.MemoryRepository
	failIdx int
}

func (r *failingRepo) Upsert(ctx context.Context, doc store.StationDocument) error {
	if doc.Idx == r.failIdx {
		return errors.New("disk full")
	}
	return r.MemoryRepository.Upsert(ctx, doc)
}

func TestNewJob_Defaults(t *testing.T) {
	job, err := NewJob(&fakeFetcher{}, store.NewMemoryRepository(), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFrom, job.cfg.From)
	assert.Equal(t, DefaultTo, job.cfg.To)
	assert.Equal(t, DefaultConcurrency, job.cfg.Concurrency)
	assert.Equal(t, DefaultTimeout, job.cfg.Timeout)

	_, err = NewJob(nil, store.NewMemoryRepository(), Config{}, nil)
	assert.Error(t, err)
	_, err = NewJob(&fakeFetcher{}, store.NewMemoryRepository(), Config{From: 10, To: 5}, nil)
	assert.Error(t, err)
}

func TestJob_Run_PartialFailure(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[int]error{
		3: &client.UpstreamError{Op: client.OpStation, Message: "Unknown station"},
		5: &client.NetworkError{Op: client.OpStation, Err: errors.New("connection reset")},
	}}
	repo := &failingRepo{MemoryRepository: store.NewMemoryRepository(), failIdx: 7}
	core, logs := observer.New(zap.InfoLevel)

	job, err := NewJob(fetcher, repo, Config{From: 1, To: 10, Concurrency: 3}, zap.New(core))
	require.NoError(t, err)
	job.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Attempted)
	assert.Equal(t, 7, res.Stored)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 7, repo.Len())

	doc, err := repo.Get(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "Station 4, State, Country", doc.Station)
	assert.Equal(t, 40, *doc.AQI)
	assert.Equal(t, 4.0, doc.Pollutants["pm25"])
	assert.Equal(t, job.now(), doc.FetchedAt)

	assert.Equal(t, 2, logs.FilterMessage("station ingestion failed").Len())
	summary := logs.FilterMessage("ingestion finished").All()
	require.Len(t, summary, 1)
	assert.Equal(t, "partial", summary[0].ContextMap()["outcome"])
}

func TestJob_Run_BoundedConcurrency(t *testing.T) {
	fetcher := &fakeFetcher{delay: 5 * time.Millisecond}
	job, err := NewJob(fetcher, store.NewMemoryRepository(), Config{From: 1, To: 40, Concurrency: 4}, nil)
	require.NoError(t, err)

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, res.Stored)
	assert.LessOrEqual(t, fetcher.maxSeen.Load(), int32(4))
}

func TestJob_Run_Canceled(t *testing.T) {
	fetcher := &fakeFetcher{delay: 20 * time.Millisecond}
	job, err := NewJob(fetcher, store.NewMemoryRepository(), Config{From: 1, To: 1000, Concurrency: 2}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := job.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, res.Attempted, 1000)
}
