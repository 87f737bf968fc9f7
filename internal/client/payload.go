package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Number is a JSON value that may arrive as a number, a numeric string, or a
// placeholder such as "-". Valid is false for anything that is not a finite number.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Number{Value: f, Valid: true}
	return nil
}

// Int returns the value rounded to the nearest integer, or nil when invalid.
func (n Number) Int() *int {
	if !n.Valid {
		return nil
	}
	v := int(math.Round(n.Value))
	return &v
}

// Kind identifies a payload variant.
type Kind int

const (
	KindStation Kind = iota + 1
	KindMap
	KindSearch
)

func (k Kind) String() string {
	switch k {
	case KindStation:
		return "station"
	case KindMap:
		return "map"
	case KindSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Payload is the decoded data of a successful envelope: StationFeed, MapFeed or SearchFeed.
type Payload interface {
	Kind() Kind
}

// envelope is the outer wrapper of every upstream response.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// failureMessage extracts the upstream explanation for a non-ok envelope.
func (e envelope) failureMessage() string {
	if e.Message != "" {
		return e.Message
	}
	var s string
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &s) == nil && s != "" {
		return s
	}
	return "API returned non-OK status"
}

// Reading is a single per-pollutant index value.
type Reading struct {
	V Number `json:"v"`
}

// DailyForecast is one raw forecast day. The upstream avg is carried but never used.
type DailyForecast struct {
	Day string `json:"day"`
	Min Number `json:"min"`
	Max Number `json:"max"`
	Avg Number `json:"avg"`
}

// StationCity is the station label block of a station feed.
type StationCity struct {
	Name string   `json:"name"`
	Geo  []Number `json:"geo"`
	URL  string   `json:"url"`
}

// StationTime is the observation time block of a station feed.
type StationTime struct {
	S   string `json:"s"`
	TZ  string `json:"tz"`
	V   int64  `json:"v"`
	ISO string `json:"iso"`
}

// Observed returns the observation instant, preferring the ISO form.
func (t StationTime) Observed() time.Time {
	if t.ISO != "" {
		if ts, err := time.Parse(time.RFC3339, t.ISO); err == nil {
			return ts
		}
	}
	if t.V > 0 {
		return time.Unix(t.V, 0).UTC()
	}
	return time.Time{}
}

// StationFeed is the data of /feed/{city}/, /feed/geo:…/, /feed/here/ and /feed/@{uid}/.
type StationFeed struct {
	AQI         Number             `json:"aqi"`
	Idx         int                `json:"idx"`
	DominentPol string             `json:"dominentpol"`
	City        *StationCity       `json:"city"`
	IAQI        map[string]Reading `json:"iaqi"`
	Time        StationTime        `json:"time"`
	Forecast    struct {
		Daily map[string][]DailyForecast `json:"daily"`
	} `json:"forecast"`
}

func (StationFeed) Kind() Kind { return KindStation }

// MapStation is one marker of the bounds feed.
type MapStation struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	UID     int     `json:"uid"`
	AQI     Number  `json:"aqi"`
	Station struct {
		Name string `json:"name"`
		Time string `json:"time"`
	} `json:"station"`
}

// MapFeed is the data of /v2/map/bounds. Fingerprint identifies the raw payload
// so derived views can be memoized per feed.
type MapFeed struct {
	Stations    []MapStation
	Fingerprint uint64
}

func (MapFeed) Kind() Kind { return KindMap }

// SearchHit is one row of the keyword search feed.
type SearchHit struct {
	UID  int    `json:"uid"`
	AQI  Number `json:"aqi"`
	Time struct {
		TZ    string `json:"tz"`
		STime string `json:"stime"`
		VTime int64  `json:"vtime"`
	} `json:"time"`
	Station struct {
		Name    string   `json:"name"`
		Geo     []Number `json:"geo"`
		URL     string   `json:"url"`
		Country string   `json:"country"`
	} `json:"station"`
}

// SearchFeed is the data of /search/.
type SearchFeed struct {
	Hits []SearchHit
}

func (SearchFeed) Kind() Kind { return KindSearch }

var errShape = errors.New("unrecognized payload shape")

// Decode parses envelope data into the variant named by kind. Data whose JSON
// shape does not match the variant is rejected rather than defaulted.
func Decode(kind Kind, data json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(data)
	op := "decode " + kind.String()
	if len(trimmed) == 0 {
		return nil, &ParseError{Op: op, Err: errShape}
	}
	switch kind {
	case KindStation:
		if trimmed[0] != '{' {
			return nil, &ParseError{Op: op, Err: fmt.Errorf("%w: want object", errShape)}
		}
		var feed StationFeed
		if err := json.Unmarshal(trimmed, &feed); err != nil {
			return nil, &ParseError{Op: op, Err: err}
		}
		if feed.City == nil {
			return nil, &ParseError{Op: op, Err: fmt.Errorf("%w: missing city block", errShape)}
		}
		return feed, nil
	case KindMap:
		if trimmed[0] != '[' {
			return nil, &ParseError{Op: op, Err: fmt.Errorf("%w: want array", errShape)}
		}
		var stations []MapStation
		if err := json.Unmarshal(trimmed, &stations); err != nil {
			return nil, &ParseError{Op: op, Err: err}
		}
		return MapFeed{Stations: stations, Fingerprint: xxhash.Sum64(trimmed)}, nil
	case KindSearch:
		if trimmed[0] != '[' {
			return nil, &ParseError{Op: op, Err: fmt.Errorf("%w: want array", errShape)}
		}
		var hits []SearchHit
		if err := json.Unmarshal(trimmed, &hits); err != nil {
			return nil, &ParseError{Op: op, Err: err}
		}
		return SearchFeed{Hits: hits}, nil
	}
	return nil, &ParseError{Op: op, Err: errShape}
}
