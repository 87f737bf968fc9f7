// Package store persists station documents collected by the ingestion job.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/normalize"
)

// ErrNotFound is returned when no document exists for an index.
var ErrNotFound = errors.New("station document not found")

// StationDocument is the persisted form of one station, keyed by its numeric index.
type StationDocument struct {
	Idx        int                  `json:"idx"`
	Station    string               `json:"station"`
	AQI        *int                 `json:"aqi"`
	Pollutants map[string]float64   `json:"pollutants"`
	Forecast   []models.ForecastDay `json:"forecast"`
	Geo        *models.Geo          `json:"geo,omitempty"`
	URL        string               `json:"url,omitempty"`
	ObservedAt time.Time            `json:"observedAt"`
	FetchedAt  time.Time            `json:"fetchedAt"`
}

// FromRecord builds the document of a normalized record.
func FromRecord(rec models.StationRecord, fetchedAt time.Time) StationDocument {
	return StationDocument{
		Idx:        rec.Idx,
		Station:    stationLabel(rec),
		AQI:        rec.AQI,
		Pollutants: rec.Pollutants,
		Forecast:   rec.Forecast,
		Geo:        rec.Geo,
		URL:        rec.SourceURL,
		ObservedAt: rec.ObservedAt,
		FetchedAt:  fetchedAt,
	}
}

// Record converts the document back to the canonical record shape.
func (d StationDocument) Record() models.StationRecord {
	name := normalize.ParseStationName(d.Station)
	pollutants := d.Pollutants
	if pollutants == nil {
		pollutants = map[string]float64{}
	}
	forecast := d.Forecast
	if forecast == nil {
		forecast = []models.ForecastDay{}
	}
	return models.StationRecord{
		Idx:         d.Idx,
		AQI:         d.AQI,
		ObservedAt:  d.ObservedAt,
		StationName: name.Station,
		StateName:   name.State,
		CountryName: name.Country,
		Pollutants:  pollutants,
		Forecast:    forecast,
		Geo:         d.Geo,
		SourceURL:   d.URL,
		Severity:    normalize.ClassifySeverity(d.AQI),
	}
}

func stationLabel(rec models.StationRecord) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{rec.StationName, rec.StateName, rec.CountryName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Repository stores station documents.
type Repository interface {
	// Upsert inserts doc or replaces the document with the same index.
	Upsert(ctx context.Context, doc StationDocument) error
	// Get returns the document for idx or ErrNotFound.
	Get(ctx context.Context, idx int) (StationDocument, error)
	// SearchByCity returns documents whose station label contains substr,
	// case-insensitively, newest fetch first. An empty substr matches everything.
	SearchByCity(ctx context.Context, substr string, limit int) ([]StationDocument, error)
	// TopByAQI returns documents with a known AQI, highest first.
	TopByAQI(ctx context.Context, limit int) ([]StationDocument, error)
}

// DefaultLimit caps listings when the caller passes a non-positive limit.
const DefaultLimit = 100
