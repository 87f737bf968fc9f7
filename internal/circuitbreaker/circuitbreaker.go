// Package circuitbreaker configures breakers that fail fast when the upstream
// keeps failing, so requests stop queueing behind a dead dependency.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config holds circuit breaker parameters.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string
	// FailureThreshold is the number of consecutive failures that opens the breaker. Default 5.
	FailureThreshold uint32
	// MaxRequests is the number of probe requests allowed while half-open. Default 1.
	MaxRequests uint32
	// Timeout is how long the breaker stays open before probing. Default 30s.
	Timeout time.Duration
	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration
	// IsFailure decides which errors count against the upstream. Nil counts every error.
	IsFailure func(err error) bool
	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// New creates a breaker for calls returning T.
func New[T any](cfg Config) *gobreaker.CircuitBreaker[T] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: cfg.OnStateChange,
	}
	if cfg.IsFailure != nil {
		isFailure := cfg.IsFailure
		settings.IsSuccessful = func(err error) bool {
			return err == nil || !isFailure(err)
		}
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}

// IsOpen reports whether err was produced by the breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// StateValue maps a state to the gauge value (0 closed, 1 open, 2 half-open).
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
