package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger *zap.Logger
	// Limiter guards /api/v1 and /search. Nil disables rate limiting.
	Limiter *rate.Limiter
	// RequestTimeout bounds requests that may reach the upstream. Zero disables it.
	RequestTimeout time.Duration
}

// NewRouter registers every route of h.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.Handle("/search", RateLimitMiddleware(cfg.Limiter)(http.HandlerFunc(h.SearchStored))).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/cities/{city}", h.GetCity).Methods(http.MethodGet)
	api.HandleFunc("/cities/{city}/forecast", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/cities/{city}/pollutants/{code}", h.GetPollutant).Methods(http.MethodGet)
	api.HandleFunc("/geo", h.GetGeo).Methods(http.MethodGet)
	api.HandleFunc("/here", h.GetHere).Methods(http.MethodGet)
	api.HandleFunc("/ranking", h.GetRanking).Methods(http.MethodGet)
	api.HandleFunc("/search", h.GetSearch).Methods(http.MethodGet)
	api.HandleFunc("/severity", h.GetSeverity).Methods(http.MethodGet)
	api.HandleFunc("/stations/top", h.GetTopStations).Methods(http.MethodGet)
	api.HandleFunc("/stations/{idx:[0-9]+}", h.GetStation).Methods(http.MethodGet)
	api.HandleFunc("/location", h.GetLocation).Methods(http.MethodGet)
	api.HandleFunc("/location", h.PutLocation).Methods(http.MethodPut)
	api.HandleFunc("/ingest", h.PostIngest).Methods(http.MethodPost)

	return router
}
