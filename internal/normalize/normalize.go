// Package normalize reshapes upstream payloads into the canonical records served to the UI.
package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
)

// Horizon is the number of trailing forecast days to keep.
type Horizon int

const (
	Week  Horizon = 7
	Month Horizon = 30
)

// DefaultPollutant is the forecast series attached to a station record.
const DefaultPollutant = "pm25"

// StationName is a "name, state, country" label split into its parts.
type StationName struct {
	Station string
	State   string
	Country string
}

// ParseStationName splits a free-form station label on commas.
// Missing segments are empty strings; segments past the third are ignored.
func ParseStationName(label string) StationName {
	parts := strings.Split(label, ",")
	seg := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	return StationName{Station: seg(0), State: seg(1), Country: seg(2)}
}

// Station builds the canonical record of a station feed. The forecast holds
// the last week of the DefaultPollutant series.
func Station(feed client.StationFeed) models.StationRecord {
	rec := models.StationRecord{
		Idx:        feed.Idx,
		AQI:        feed.AQI.Int(),
		ObservedAt: feed.Time.Observed(),
		Pollutants: Pollutants(feed.IAQI),
		Forecast:   Forecast(feed, DefaultPollutant, Week),
	}
	if feed.City != nil {
		name := ParseStationName(feed.City.Name)
		rec.StationName, rec.StateName, rec.CountryName = name.Station, name.State, name.Country
		rec.Geo = geo(feed.City.Geo)
		rec.SourceURL = feed.City.URL
	}
	rec.Severity = ClassifySeverity(rec.AQI)
	return rec
}

// Pollutants lower-cases every pollutant code and keeps its value.
// Readings without a numeric value are left out.
func Pollutants(iaqi map[string]client.Reading) map[string]float64 {
	out := make(map[string]float64, len(iaqi))
	for code, r := range iaqi {
		if !r.V.Valid {
			continue
		}
		out[strings.ToLower(code)] = r.V.Value
	}
	return out
}

// Forecast returns the last h days of the pollutant's daily series.
// The average is always (min+max)/2; days without both bounds are skipped.
func Forecast(feed client.StationFeed, pollutant string, h Horizon) []models.ForecastDay {
	series := lookupSeries(feed.Forecast.Daily, pollutant)
	days := make([]models.ForecastDay, 0, len(series))
	for _, d := range series {
		if !d.Min.Valid || !d.Max.Valid {
			continue
		}
		days = append(days, models.ForecastDay{
			Date: d.Day,
			Min:  d.Min.Value,
			Max:  d.Max.Value,
			Avg:  (d.Min.Value + d.Max.Value) / 2,
		})
	}
	if n := int(h); n > 0 && len(days) > n {
		days = days[len(days)-n:]
	}
	return days
}

func lookupSeries(daily map[string][]client.DailyForecast, pollutant string) []client.DailyForecast {
	if s, ok := daily[pollutant]; ok {
		return s
	}
	want := strings.ToLower(pollutant)
	for code, s := range daily {
		if strings.ToLower(code) == want {
			return s
		}
	}
	return nil
}

// PollutantValue returns the reading for code, matched case-insensitively.
func PollutantValue(rec models.StationRecord, code string) (float64, bool) {
	v, ok := rec.Pollutants[strings.ToLower(code)]
	return v, ok
}

// PollutantCodes returns the record's pollutant codes in sorted order.
func PollutantCodes(rec models.StationRecord) []string {
	codes := make([]string, 0, len(rec.Pollutants))
	for c := range rec.Pollutants {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// SearchRows converts keyword-search hits, keeping upstream order.
func SearchRows(feed client.SearchFeed) []models.SearchRow {
	rows := make([]models.SearchRow, 0, len(feed.Hits))
	for _, h := range feed.Hits {
		row := models.SearchRow{
			UID:       h.UID,
			AQI:       h.AQI.Int(),
			Station:   strings.TrimSpace(h.Station.Name),
			Geo:       geo(h.Station.Geo),
			SourceURL: h.Station.URL,
		}
		if h.Time.VTime > 0 {
			row.ObservedAt = time.Unix(h.Time.VTime, 0).UTC()
		}
		row.Severity = ClassifySeverity(row.AQI)
		rows = append(rows, row)
	}
	return rows
}

func geo(g []client.Number) *models.Geo {
	if len(g) < 2 || !g[0].Valid || !g[1].Valid {
		return nil
	}
	return &models.Geo{g[0].Value, g[1].Value}
}
