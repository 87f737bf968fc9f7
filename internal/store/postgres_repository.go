package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS stations (
	idx         INTEGER PRIMARY KEY,
	station     TEXT NOT NULL,
	aqi         INTEGER,
	pollutants  JSONB NOT NULL DEFAULT '{}'::jsonb,
	forecast    JSONB NOT NULL DEFAULT '[]'::jsonb,
	lat         DOUBLE PRECISION,
	lng         DOUBLE PRECISION,
	url         TEXT NOT NULL DEFAULT '',
	observed_at TIMESTAMPTZ,
	fetched_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS stations_station_lower_idx ON stations (lower(station));
CREATE INDEX IF NOT EXISTS stations_aqi_desc_idx ON stations (aqi DESC NULLS LAST);
CREATE INDEX IF NOT EXISTS stations_fetched_at_idx ON stations (fetched_at DESC);
`

const selectColumns = `idx, station, aqi, pollutants, forecast, lat, lng, url, observed_at, fetched_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate creates the stations table and its indexes when missing.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate stations: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Upsert(ctx context.Context, doc StationDocument) error {
	query := `
		INSERT INTO stations (idx, station, aqi, pollutants, forecast, lat, lng, url, observed_at, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idx) DO UPDATE SET
			station = EXCLUDED.station,
			aqi = EXCLUDED.aqi,
			pollutants = EXCLUDED.pollutants,
			forecast = EXCLUDED.forecast,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			url = EXCLUDED.url,
			observed_at = EXCLUDED.observed_at,
			fetched_at = EXCLUDED.fetched_at
	`

	pollutants := doc.Pollutants
	if pollutants == nil {
		pollutants = map[string]float64{}
	}
	forecast := doc.Forecast
	if forecast == nil {
		forecast = []models.ForecastDay{}
	}
	var lat, lng *float64
	if doc.Geo != nil {
		lat, lng = &doc.Geo[0], &doc.Geo[1]
	}
	var observed *time.Time
	if !doc.ObservedAt.IsZero() {
		observed = &doc.ObservedAt
	}

	_, err := r.pool.Exec(ctx, query,
		doc.Idx,
		doc.Station,
		doc.AQI,
		pollutants,
		forecast,
		lat,
		lng,
		doc.URL,
		observed,
		doc.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert station %d: %w", doc.Idx, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, idx int) (StationDocument, error) {
	query := `SELECT ` + selectColumns + ` FROM stations WHERE idx = $1`

	doc, err := scanDocument(r.pool.QueryRow(ctx, query, idx))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StationDocument{}, ErrNotFound
		}
		return StationDocument{}, err
	}
	return doc, nil
}

func (r *PostgresRepository) SearchByCity(ctx context.Context, substr string, limit int) ([]StationDocument, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := `
		SELECT ` + selectColumns + `
		FROM stations
		WHERE $1 = '' OR strpos(lower(station), lower($1)) > 0
		ORDER BY fetched_at DESC, idx
		LIMIT $2
	`
	return r.list(ctx, query, strings.TrimSpace(substr), limit)
}

func (r *PostgresRepository) TopByAQI(ctx context.Context, limit int) ([]StationDocument, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := `
		SELECT ` + selectColumns + `
		FROM stations
		WHERE aqi IS NOT NULL
		ORDER BY aqi DESC, lower(station)
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]StationDocument, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]StationDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (StationDocument, error) {
	var (
		doc      StationDocument
		lat, lng *float64
		observed *time.Time
	)
	err := row.Scan(
		&doc.Idx,
		&doc.Station,
		&doc.AQI,
		&doc.Pollutants,
		&doc.Forecast,
		&lat,
		&lng,
		&doc.URL,
		&observed,
		&doc.FetchedAt,
	)
	if err != nil {
		return StationDocument{}, err
	}
	if lat != nil && lng != nil {
		doc.Geo = &models.Geo{*lat, *lng}
	}
	if observed != nil {
		doc.ObservedAt = *observed
	}
	return doc, nil
}
