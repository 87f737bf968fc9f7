//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/airquality-dashboard/internal/store"
)

// Run with: DATABASE_URL=postgres://... go test -tags=integration ./internal/store/...
func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, store.DatabaseConfig{URL: url, ConnectRetries: 3}, nil)
	require.NoError(t, err)
	defer pool.Close()

	repo := store.NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	_, err = pool.Exec(ctx, `DELETE FROM stations WHERE idx BETWEEN 900001 AND 900003`)
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, doc(900001, "Bandra, Mumbai, India", intPtr(90), base)))
	require.NoError(t, repo.Upsert(ctx, doc(900002, "Colaba, Mumbai, India", intPtr(70), base.Add(time.Hour))))
	require.NoError(t, repo.Upsert(ctx, doc(900003, "Pune, Maharashtra, India", nil, base)))
	require.NoError(t, repo.Upsert(ctx, doc(900001, "Bandra, Mumbai, India", intPtr(95), base)))

	got, err := repo.Get(ctx, 900001)
	require.NoError(t, err)
	assert.Equal(t, 95, *got.AQI)
	assert.Equal(t, 12.0, got.Pollutants["pm25"])
	require.Len(t, got.Forecast, 1)
	assert.Equal(t, 20.0, got.Forecast[0].Avg)

	_, err = repo.Get(ctx, 900999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := repo.SearchByCity(ctx, "colaba, MUMBAI", 10)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, 900002, found[0].Idx)

	top, err := repo.TopByAQI(ctx, 1000)
	require.NoError(t, err)
	for _, d := range top {
		assert.NotNil(t, d.AQI)
	}
}
