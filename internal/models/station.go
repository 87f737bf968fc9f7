package models

import "time"

// Geo is a [latitude, longitude] pair.
type Geo [2]float64

// StationRecord is the canonical shape of a single-station feed.
type StationRecord struct {
	Idx         int                `json:"idx,omitempty"`
	AQI         *int               `json:"aqi"`
	ObservedAt  time.Time          `json:"observedAt"`
	StationName string             `json:"station"`
	StateName   string             `json:"state"`
	CountryName string             `json:"country"`
	Pollutants  map[string]float64 `json:"pollutants"`
	Forecast    []ForecastDay      `json:"forecast"`
	Geo         *Geo               `json:"geo,omitempty"`
	SourceURL   string             `json:"url,omitempty"`
	Severity    Severity           `json:"severity"`
	Fallback    bool               `json:"fallback,omitempty"` // default location served after a failed fetch
}

// ForecastDay is one day of a pollutant forecast. Avg is always (Min+Max)/2.
type ForecastDay struct {
	Date string  `json:"date"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Avg  float64 `json:"avg"`
}

// RankingEntry is one row of the AQI ranking.
type RankingEntry struct {
	Location string `json:"location"`
	AQI      int    `json:"aqi"`
}

// Severity is the AQI classification and its display colors.
type Severity struct {
	Level      string `json:"level"`
	Background string `json:"background"`
	Foreground string `json:"foreground"`
}

// SearchRow is a keyword-search hit.
type SearchRow struct {
	UID        int       `json:"uid"`
	AQI        *int      `json:"aqi"`
	Station    string    `json:"station"`
	Geo        *Geo      `json:"geo,omitempty"`
	SourceURL  string    `json:"url,omitempty"`
	ObservedAt time.Time `json:"observedAt,omitempty"`
	Severity   Severity  `json:"severity"`
}

// Location is the value held by the selected-location store.
type Location struct {
	City    string `json:"city"`
	Station string `json:"station"`
	State   string `json:"state"`
	Country string `json:"country"`
	Idx     int    `json:"idx,omitempty"`
	AQI     *int   `json:"aqi,omitempty"`
}
