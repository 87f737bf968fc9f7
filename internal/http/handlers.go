package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/client"
	"github.com/kjstillabower/airquality-dashboard/internal/lifecycle"
	"github.com/kjstillabower/airquality-dashboard/internal/models"
	"github.com/kjstillabower/airquality-dashboard/internal/normalize"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/ranking"
	"github.com/kjstillabower/airquality-dashboard/internal/search"
	"github.com/kjstillabower/airquality-dashboard/internal/service"
	"github.com/kjstillabower/airquality-dashboard/internal/store"
	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
	"github.com/kjstillabower/airquality-dashboard/internal/validation"
)

const (
	cityMinLength   = 1
	cityMaxLength   = 100
	maxRankingLimit = 20000
	maxBodyBytes    = 4 << 10

	// SessionHeader scopes keyword-search supersession to one dashboard session.
	SessionHeader = "X-Session-ID"
)

// HealthConfig holds the inputs of the health decision.
type HealthConfig struct {
	// FailureWindow and FailurePct: degraded when at least FailurePct percent
	// of requests in the window failed.
	FailureWindow time.Duration
	FailurePct    int
	// BreakerState reports the upstream breaker. Nil when the breaker is disabled.
	BreakerState func() gobreaker.State
	// CachePing checks a remote cache backend. Nil for the in-memory store.
	CachePing func() error
	// DatabasePing checks the station store. Nil for the in-memory repository.
	DatabasePing func(ctx context.Context) error
}

// IngestTrigger starts an ingestion run outside the schedule.
type IngestTrigger interface {
	RunNow() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              *service.AirQualityService
	repo             store.Repository
	searches         *search.Generations
	healthConfig     *HealthConfig
	ingest           IngestTrigger
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	svc *service.AirQualityService,
	repo store.Repository,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:          svc,
		repo:         repo,
		searches:     search.NewGenerations(),
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetIngestTrigger enables POST /api/v1/ingest.
func (h *Handler) SetIngestTrigger(t IngestTrigger) {
	h.ingest = t
}

// cityVar validates the {city} path variable, writing a 400 on failure.
func cityVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], cityMinLength, cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return "", false
	}
	return city, true
}

// GetCity handles GET /api/v1/cities/{city}.
func (h *Handler) GetCity(w http.ResponseWriter, r *http.Request) {
	city, ok := cityVar(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.CityOrDefault(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, rec)
}

type forecastResponse struct {
	City      string               `json:"city"`
	Pollutant string               `json:"pollutant"`
	Days      int                  `json:"days"`
	Forecast  []models.ForecastDay `json:"forecast"`
}

// GetForecast handles GET /api/v1/cities/{city}/forecast?pollutant=pm25&days=7.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city, ok := cityVar(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	pollutant := strings.ToLower(strings.TrimSpace(q.Get("pollutant")))
	if pollutant == "" {
		pollutant = normalize.DefaultPollutant
	}
	days := int(normalize.Week)
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "days must be 7 or 30")
			return
		}
		days = n
	}
	if err := validation.ValidateForecast(pollutant, days); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}

	forecast, err := h.svc.Forecast(r.Context(), city, pollutant, normalize.Horizon(days))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if forecast == nil {
		forecast = []models.ForecastDay{}
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, forecastResponse{
		City:      strings.ToLower(city),
		Pollutant: pollutant,
		Days:      days,
		Forecast:  forecast,
	})
}

// GetPollutant handles GET /api/v1/cities/{city}/pollutants/{code}.
func (h *Handler) GetPollutant(w http.ResponseWriter, r *http.Request) {
	city, ok := cityVar(w, r)
	if !ok {
		return
	}
	code := strings.ToLower(strings.TrimSpace(mux.Vars(r)["code"]))
	if err := validation.ValidatePollutant(code); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}

	value, reported, err := h.svc.Pollutant(r.Context(), city, code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Served)
	if !reported {
		writeError(w, r, http.StatusNotFound, "POLLUTANT_NOT_REPORTED", "station does not report "+code)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"city":      strings.ToLower(city),
		"pollutant": code,
		"value":     value,
	})
}

// GetGeo handles GET /api/v1/geo?lat=&lng=.
func (h *Handler) GetGeo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(q.Get("lat")), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(q.Get("lng")), 64)
	if errLat != nil || errLng != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat and lng must be numbers")
		return
	}
	if err := validation.ValidateCoordinates(lat, lng); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	rec, err := h.svc.Geo(r.Context(), lat, lng)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, rec)
}

// GetHere handles GET /api/v1/here.
func (h *Handler) GetHere(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Here(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, rec)
}

type rankingResponse struct {
	Total   int                   `json:"total"`
	Count   int                   `json:"count"`
	HasMore bool                  `json:"hasMore"`
	Next    int                   `json:"next,omitempty"`
	Entries []models.RankingEntry `json:"entries"`
}

// GetRanking handles GET /api/v1/ranking?limit=. The response is the first
// limit entries of the sorted list; next is the limit that reveals one more step.
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	limit := ranking.InitialReveal
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be an integer")
			return
		}
		limit = n
	}
	if err := validation.ValidateLimit(limit, maxRankingLimit); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}

	rk, err := h.svc.Ranking(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	page := rk.Page(limit)
	if page == nil {
		page = []models.RankingEntry{}
	}
	resp := rankingResponse{
		Total:   rk.Len(),
		Count:   len(page),
		HasMore: len(page) < rk.Len(),
		Entries: page,
	}
	if resp.HasMore {
		resp.Next = min(limit+ranking.RevealStep, rk.Len())
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, resp)
}

// GetSearch handles GET /api/v1/search?keyword=. Requests carrying the same
// X-Session-ID supersede each other: only the latest one gets results, earlier
// ones are cancelled and answered with 409.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if len(keyword) > cityMaxLength {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "keyword too long")
		return
	}

	ctx := r.Context()
	session := strings.TrimSpace(r.Header.Get(SessionHeader))
	var tok search.Token
	if session != "" {
		tok = h.searches.Issue(ctx, session)
		defer h.searches.Release(tok)
		ctx = tok.Context()
	}

	rows, err := h.svc.Search(ctx, keyword)
	if session != "" && !h.searches.Current(tok) {
		observability.SearchSupersededTotal.Inc()
		observability.LoggerFromContext(r.Context(), h.logger).Debug("search superseded",
			zap.String("session", session),
			zap.Uint64("generation", tok.Generation),
		)
		writeError(w, r, http.StatusConflict, "SUPERSEDED", "a newer search replaced this one")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.SearchRow{}
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keyword": keyword,
		"results": rows,
	})
}

// GetSeverity handles GET /api/v1/severity?aqi=. A missing aqi classifies as unknown.
func (h *Handler) GetSeverity(w http.ResponseWriter, r *http.Request) {
	var aqi *int
	if raw := strings.TrimSpace(r.URL.Query().Get("aqi")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "aqi must be an integer")
			return
		}
		aqi = &n
	}
	sev := normalize.ClassifySeverity(aqi)
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aqi":      aqi,
		"severity": sev,
		"rank":     normalize.SeverityRank(sev.Level),
	})
}

// SearchStored handles GET /search?city=. It reads persisted stations only
// and never calls the upstream.
func (h *Handler) SearchStored(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	docs, err := h.repo.SearchByCity(r.Context(), city, store.DefaultLimit)
	if err != nil {
		traffic.Record(traffic.Failed)
		observability.LoggerFromContext(r.Context(), h.logger).Error("stored station search failed",
			zap.String("city", city),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Failed to fetch AQI data",
		})
		return
	}
	if docs == nil {
		docs = []store.StationDocument{}
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    docs,
	})
}

// GetStation handles GET /api/v1/stations/{idx} from the station store.
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(mux.Vars(r)["idx"])
	if err != nil || idx < 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "idx must be a non-negative integer")
		return
	}
	doc, err := h.repo.Get(r.Context(), idx)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no stored station for this index")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, doc)
}

// GetTopStations handles GET /api/v1/stations/top?limit=.
func (h *Handler) GetTopStations(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.DefaultLimit {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	docs, err := h.repo.TopByAQI(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.StationDocument{}
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, docs)
}

// GetLocation handles GET /api/v1/location.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.SelectedLocation(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, loc)
}

// PutLocation handles PUT /api/v1/location with body {"city": "..."}.
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		City string `json:"city"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "body must be {\"city\": \"...\"}")
		return
	}
	city, err := validation.ValidateCity(body.City, cityMinLength, cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	loc, err := h.svc.SelectLocation(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Served)
	writeJSON(w, http.StatusOK, loc)
}

// PostIngest handles POST /api/v1/ingest. The run happens in the background.
func (h *Handler) PostIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		writeError(w, r, http.StatusNotFound, "INGEST_DISABLED", "ingestion is not enabled")
		return
	}
	if err := h.ingest.RunNow(); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "INGEST_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"waqiApi": "healthy"}
	if result.reason == "circuit_open" || result.reason == "error_rate_breach" {
		checks["waqiApi"] = "unhealthy"
	}
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			checks["cache"] = healthLabel(h.healthConfig.CachePing())
		}
		if h.healthConfig.DatabasePing != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			checks["database"] = healthLabel(h.healthConfig.DatabasePing(ctx))
			cancel()
		}
	}
	now := time.Now()
	body := map[string]interface{}{
		"status":    result.status,
		"service":   "airquality-dashboard",
		"version":   "dev",
		"checks":    checks,
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if d := lifecycle.DrainingFor(now); d > 0 {
		body["drainingSeconds"] = int(d.Seconds())
	}
	writeJSON(w, result.statusCode, body)
}

func healthLabel(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > circuit open > failure rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.BreakerState != nil && h.healthConfig.BreakerState() == gobreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.FailureWindow > 0 && h.healthConfig.FailurePct > 0 {
		failed, total := traffic.FailureRate(h.healthConfig.FailureWindow)
		if total > 0 && failed*100 >= h.healthConfig.FailurePct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// errorResponse maps a service error to an HTTP status and error code.
func errorResponse(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, validation.ErrInvalidParameter),
		errors.Is(err, validation.ErrInvalidCoordinates):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, client.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "CIRCUIT_OPEN", "Air quality provider temporarily unavailable"
	case errors.Is(err, client.ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to reach air quality provider"
	case client.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND", "Unknown station or city"
	case errors.Is(err, client.ErrUpstream):
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Air quality provider returned an error"
	case errors.Is(err, client.ErrParse):
		return http.StatusBadGateway, "BAD_UPSTREAM_PAYLOAD", "Unexpected response from air quality provider"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error"
	}
}

// writeServiceError maps err to a status, records the outcome for health
// and logs the underlying error at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorResponse(err)
	if status >= http.StatusInternalServerError {
		traffic.Record(traffic.Failed)
	} else {
		traffic.Record(traffic.Served)
	}
	writeError(w, r, status, code, message)
	observability.LoggerFromContext(r.Context(), nil).Debug("request failed",
		zap.Int("status", status),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err),
	)
}
