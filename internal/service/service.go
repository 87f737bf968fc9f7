package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/location"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/normalize"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/ranking"
)

// ErrInvalidInput is returned for blank or malformed arguments.
var ErrInvalidInput = errors.New("invalid input")

// The location shown when the requested one cannot be loaded.
const (
	DefaultCity    = "mumbai"
	DefaultStation = "Chakala-Andheri East"
	DefaultState   = "Mumbai"
	DefaultCountry = "India"
)

const defaultRankingMemoSize = 8

// AirQualityClient is the subset of the WAQI client used by the service.
type AirQualityClient interface {
	CityFeed(ctx context.Context, city string) (client.StationFeed, error)
	GeoFeed(ctx context.Context, lat, lng float64) (client.StationFeed, error)
	HereFeed(ctx context.Context) (client.StationFeed, error)
	MapBounds(ctx context.Context, b client.Bounds, networks string) (client.MapFeed, error)
	Search(ctx context.Context, keyword string) (client.SearchFeed, error)
}

// Options configures an AirQualityService.
type Options struct {
	// RankingMemoSize bounds the number of built rankings kept per feed fingerprint.
	RankingMemoSize int
	// Location is the selected-location store. Optional.
	Location *location.Store
	Logger   *zap.Logger
}

// AirQualityService turns upstream feeds into normalized records. Caching
// happens below it, in the client's fetch cache.
type AirQualityService struct {
	client   AirQualityClient
	rankings *lru.Cache[uint64, *ranking.Ranking]
	location *location.Store
	logger   *zap.Logger
}

// NewAirQualityService creates a service over c.
func NewAirQualityService(c AirQualityClient, opts Options) (*AirQualityService, error) {
	if c == nil {
		return nil, errors.New("service: client is required")
	}
	size := opts.RankingMemoSize
	if size <= 0 {
		size = defaultRankingMemoSize
	}
	memo, err := lru.New[uint64, *ranking.Ranking](size)
	if err != nil {
		return nil, fmt.Errorf("service: ranking memo: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = location.NewStore(nil, logger)
	}
	return &AirQualityService{client: c, rankings: memo, location: loc, logger: logger}, nil
}

// normalizeCity trims and lower-cases a city so equivalent inputs share a cache key.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// City returns the normalized record of the station nearest to city.
func (s *AirQualityService) City(ctx context.Context, city string) (models.StationRecord, error) {
	key := normalizeCity(city)
	if key == "" {
		return models.StationRecord{}, fmt.Errorf("%w: city is required", ErrInvalidInput)
	}
	observability.RecordCityQuery(key)
	feed, err := s.client.CityFeed(ctx, key)
	if err != nil {
		return models.StationRecord{}, fmt.Errorf("fetch city %s: %w", key, err)
	}
	return normalize.Station(feed), nil
}

// CityOrDefault is City, except that an upstream failure yields the default
// location with Fallback set. A cancelled context and invalid input still fail.
func (s *AirQualityService) CityOrDefault(ctx context.Context, city string) (models.StationRecord, error) {
	rec, err := s.City(ctx, city)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, ErrInvalidInput) || ctx.Err() != nil {
		return models.StationRecord{}, err
	}
	logger := observability.LoggerFromContext(ctx, s.logger)
	logger.Warn("city lookup failed, serving default location",
		zap.String("city", normalizeCity(city)),
		zap.Error(err),
	)
	observability.DefaultLocationFallbacksTotal.Inc()
	return s.defaultRecord(ctx), nil
}

// defaultRecord loads the default city's feed. When that fails too, the
// record carries only the default names and an unknown severity.
func (s *AirQualityService) defaultRecord(ctx context.Context) models.StationRecord {
	rec := models.StationRecord{
		Pollutants: map[string]float64{},
		Forecast:   []models.ForecastDay{},
		Severity:   normalize.ClassifySeverity(nil),
	}
	if feed, err := s.client.CityFeed(ctx, DefaultCity); err == nil {
		rec = normalize.Station(feed)
	} else {
		observability.LoggerFromContext(ctx, s.logger).Warn("default location unavailable", zap.Error(err))
	}
	rec.StationName, rec.StateName, rec.CountryName = DefaultStation, DefaultState, DefaultCountry
	rec.Fallback = true
	return rec
}

// Forecast returns the last h days of pollutant's forecast for city.
func (s *AirQualityService) Forecast(ctx context.Context, city, pollutant string, h normalize.Horizon) ([]models.ForecastDay, error) {
	key := normalizeCity(city)
	if key == "" {
		return nil, fmt.Errorf("%w: city is required", ErrInvalidInput)
	}
	if pollutant == "" {
		pollutant = normalize.DefaultPollutant
	}
	feed, err := s.client.CityFeed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast for %s: %w", key, err)
	}
	return normalize.Forecast(feed, pollutant, h), nil
}

// Pollutant returns one pollutant reading for city. ok is false when the
// station does not report it.
func (s *AirQualityService) Pollutant(ctx context.Context, city, code string) (value float64, ok bool, err error) {
	if strings.TrimSpace(code) == "" {
		return 0, false, fmt.Errorf("%w: pollutant is required", ErrInvalidInput)
	}
	rec, err := s.City(ctx, city)
	if err != nil {
		return 0, false, err
	}
	value, ok = normalize.PollutantValue(rec, code)
	return value, ok, nil
}

// Geo returns the record of the station nearest to a coordinate.
func (s *AirQualityService) Geo(ctx context.Context, lat, lng float64) (models.StationRecord, error) {
	feed, err := s.client.GeoFeed(ctx, lat, lng)
	if err != nil {
		return models.StationRecord{}, fmt.Errorf("fetch geo %v,%v: %w", lat, lng, err)
	}
	return normalize.Station(feed), nil
}

// Here returns the record of the station the upstream associates with the caller.
func (s *AirQualityService) Here(ctx context.Context) (models.StationRecord, error) {
	feed, err := s.client.HereFeed(ctx)
	if err != nil {
		return models.StationRecord{}, fmt.Errorf("fetch here: %w", err)
	}
	return normalize.Station(feed), nil
}

// Ranking returns the worldwide ranking. A ranking is built once per distinct
// map feed and reused until the feed changes.
func (s *AirQualityService) Ranking(ctx context.Context) (*ranking.Ranking, error) {
	feed, err := s.client.MapBounds(ctx, client.WorldBounds, "all")
	if err != nil {
		return nil, fmt.Errorf("fetch ranking feed: %w", err)
	}
	if r, ok := s.rankings.Get(feed.Fingerprint); ok {
		observability.RankingMemoHitsTotal.Inc()
		return r, nil
	}
	r := ranking.Build(feed)
	s.rankings.Add(feed.Fingerprint, r)
	observability.RankingBuildsTotal.Inc()
	observability.LoggerFromContext(ctx, s.logger).Debug("ranking built",
		zap.Int("ranked", r.Len()),
		zap.Int("dropped", r.Dropped()),
	)
	return r, nil
}

// Search returns keyword-search hits. A blank keyword matches nothing.
func (s *AirQualityService) Search(ctx context.Context, keyword string) ([]models.SearchRow, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []models.SearchRow{}, nil
	}
	feed, err := s.client.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	return normalize.SearchRows(feed), nil
}

// PrefetchCity loads city's feed into the fetch cache.
func (s *AirQualityService) PrefetchCity(ctx context.Context, city string) error {
	_, err := s.client.CityFeed(ctx, normalizeCity(city))
	return err
}

// SelectedLocation returns the current location. When none is set it selects
// the default location first, as a fresh dashboard does.
func (s *AirQualityService) SelectedLocation(ctx context.Context) (models.Location, error) {
	if loc, ok := s.location.Get(); ok {
		return loc, nil
	}
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	loc := LocationFromRecord(DefaultCity, s.defaultRecord(ctx))
	s.location.Set(loc)
	return loc, nil
}

// SelectLocation loads city and makes it the current location.
func (s *AirQualityService) SelectLocation(ctx context.Context, city string) (models.Location, error) {
	rec, err := s.City(ctx, city)
	if err != nil {
		return models.Location{}, err
	}
	loc := LocationFromRecord(normalizeCity(city), rec)
	s.location.Set(loc)
	return loc, nil
}

// LocationFromRecord builds the selected-location value of a station record.
func LocationFromRecord(city string, rec models.StationRecord) models.Location {
	return models.Location{
		City:    city,
		Station: rec.StationName,
		State:   rec.StateName,
		Country: rec.CountryName,
		Idx:     rec.Idx,
		AQI:     rec.AQI,
	}
}
