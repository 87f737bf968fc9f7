package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kjstillabower/airquality-dashboard/internal/cache"
	"github.com/kjstillabower/airquality-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// DefaultBaseURL is the public WAQI endpoint.
const DefaultBaseURL = "https://api.waqi.info"

// maxBodyBytes bounds a single upstream response; the global map feed is the largest.
const maxBodyBytes = 32 << 20

// Operation names. They prefix cache keys and label metrics.
const (
	OpFeed    = "feed"
	OpGeo     = "geo"
	OpHere    = "here"
	OpStation = "station"
	OpMap     = "map"
	OpSearch  = "search"
)

// Bounds is a latitude/longitude box, corners in any order.
type Bounds struct {
	Lat1 float64 `validate:"gte=-90,lte=90"`
	Lng1 float64 `validate:"gte=-180,lte=180"`
	Lat2 float64 `validate:"gte=-90,lte=90"`
	Lng2 float64 `validate:"gte=-180,lte=180"`
}

// WorldBounds covers every station.
var WorldBounds = Bounds{Lat1: -90, Lng1: -180, Lat2: 90, Lng2: 180}

// Client reads the WAQI API. Every operation goes through the fetch cache,
// so a fresh cached payload never causes a network call.
type Client struct {
	token   string
	baseURL string
	timeout time.Duration
	http    *http.Client
	cache   *cache.FetchCache
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
}

// New creates a Client. fetchCache must not be nil.
func New(token, baseURL string, timeout time.Duration, fetchCache *cache.FetchCache) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidToken)
	}
	if fetchCache == nil {
		return nil, errors.New("client: fetch cache is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		cache:   fetchCache,
	}, nil
}

// SetCircuitBreaker installs a breaker around upstream calls. Cache hits bypass it.
func (c *Client) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[json.RawMessage]) {
	c.breaker = cb
}

// IsBreakerFailure reports whether err should count against the upstream.
// Only transport failures and 5xx responses do; a bad city name is the caller's problem.
func IsBreakerFailure(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500
	}
	return false
}

// Fingerprint derives the cache key of a request from its operation and
// parameters. Parameters are query-escaped so a separator inside a value
// cannot make two different requests collide.
func Fingerprint(op string, params ...string) string {
	var b strings.Builder
	b.WriteString(op)
	for _, p := range params {
		b.WriteByte('|')
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CityFeed returns the nearest station feed for a city name or slug.
func (c *Client) CityFeed(ctx context.Context, city string) (StationFeed, error) {
	path := "/feed/" + url.PathEscape(city) + "/"
	return c.stationFeed(ctx, OpFeed, Fingerprint(OpFeed, city), path, nil)
}

// GeoFeed returns the station feed nearest to a coordinate.
func (c *Client) GeoFeed(ctx context.Context, lat, lng float64) (StationFeed, error) {
	la, ln := formatCoord(lat), formatCoord(lng)
	path := "/feed/geo:" + la + ";" + ln + "/"
	return c.stationFeed(ctx, OpGeo, Fingerprint(OpGeo, la, ln), path, nil)
}

// HereFeed returns the station feed the upstream picks from the caller's IP.
func (c *Client) HereFeed(ctx context.Context) (StationFeed, error) {
	return c.stationFeed(ctx, OpHere, Fingerprint(OpHere), "/feed/here/", nil)
}

// StationFeed returns the feed of one station by numeric index.
func (c *Client) StationFeed(ctx context.Context, uid int) (StationFeed, error) {
	id := strconv.Itoa(uid)
	return c.stationFeed(ctx, OpStation, Fingerprint(OpStation, id), "/feed/@"+id+"/", nil)
}

func (c *Client) stationFeed(ctx context.Context, op, key, path string, query url.Values) (StationFeed, error) {
	p, err := c.get(ctx, op, key, path, query, KindStation)
	if err != nil {
		return StationFeed{}, err
	}
	return p.(StationFeed), nil
}

// MapBounds returns every station marker inside b for the given networks ("all" when empty).
func (c *Client) MapBounds(ctx context.Context, b Bounds, networks string) (MapFeed, error) {
	if networks == "" {
		networks = "all"
	}
	la1, ln1, la2, ln2 := formatCoord(b.Lat1), formatCoord(b.Lng1), formatCoord(b.Lat2), formatCoord(b.Lng2)
	q := url.Values{}
	q.Set("latlng", strings.Join([]string{la1, ln1, la2, ln2}, ","))
	q.Set("networks", networks)
	p, err := c.get(ctx, OpMap, Fingerprint(OpMap, la1, ln1, la2, ln2, networks), "/v2/map/bounds", q, KindMap)
	if err != nil {
		return MapFeed{}, err
	}
	return p.(MapFeed), nil
}

// Search returns stations whose name matches keyword.
func (c *Client) Search(ctx context.Context, keyword string) (SearchFeed, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	p, err := c.get(ctx, OpSearch, Fingerprint(OpSearch, keyword), "/search/", q, KindSearch)
	if err != nil {
		return SearchFeed{}, err
	}
	return p.(SearchFeed), nil
}

// get serves key from the fetch cache, calling upstream on a miss. The fetcher
// validates the envelope and payload shape before anything is cached, so a
// cached body always decodes.
func (c *Client) get(ctx context.Context, op, key, path string, query url.Values, kind Kind) (Payload, error) {
	raw, err := c.cache.GetOrFetch(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		body, err := c.call(ctx, op, path, query)
		if err != nil {
			return nil, err
		}
		if _, err := decodeBody(op, body, kind); err != nil {
			observability.UpstreamErrorsTotal.WithLabelValues(op, string(CategorizeError(err))).Inc()
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return decodeBody(op, raw, kind)
}

// decodeBody unwraps a validated envelope and decodes its data as kind.
func decodeBody(op string, body json.RawMessage, kind Kind) (Payload, error) {
	env, err := parseEnvelope(op, body)
	if err != nil {
		return nil, err
	}
	return Decode(kind, env.Data)
}

// parseEnvelope checks the status field of an upstream body.
func parseEnvelope(op string, body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, &ParseError{Op: op, Err: err}
	}
	if env.Status != "ok" {
		return envelope{}, &UpstreamError{Op: op, Message: env.failureMessage()}
	}
	return env, nil
}

// call performs one upstream request through the breaker and returns the
// body of a successful envelope. Never retries.
func (c *Client) call(ctx context.Context, op, path string, query url.Values) (json.RawMessage, error) {
	var (
		body json.RawMessage
		err  error
	)
	if c.breaker != nil {
		body, err = c.breaker.Execute(func() (json.RawMessage, error) {
			return c.callAPI(ctx, op, path, query)
		})
		if circuitbreaker.IsOpen(err) {
			observability.UpstreamCallsTotal.WithLabelValues(op, "circuit_open").Inc()
			err = fmt.Errorf("%s: %w", op, ErrCircuitOpen)
		}
	} else {
		body, err = c.callAPI(ctx, op, path, query)
	}
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(op, string(CategorizeError(err))).Inc()
		return nil, err
	}
	return body, nil
}

func (c *Client) callAPI(ctx context.Context, op, path string, query url.Values) (json.RawMessage, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, query)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(op, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(op, status).Inc()
	observability.UpstreamDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: envelopeMessage(body)}
	}
	if _, err := parseEnvelope(op, body); err != nil {
		return nil, err
	}
	return body, nil
}

// envelopeMessage extracts an error message from a non-2xx body when it is an envelope.
func envelopeMessage(body []byte) string {
	var env envelope
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.failureMessage()
}

func (c *Client) buildRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	for k, v := range query {
		params[k] = v
	}
	params.Set("token", c.token)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// ValidateToken checks the token against the "here" feed without using the cache.
// Called once at startup.
func (c *Client) ValidateToken(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.callAPI(ctx, OpHere, "/feed/here/", nil)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidToken) {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return fmt.Errorf("validate token: %w", err)
}
