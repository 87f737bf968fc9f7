package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels for errors.Is checks. The typed errors below unwrap to these.
var (
	ErrNetwork      = errors.New("network failure")
	ErrUpstream     = errors.New("upstream failure")
	ErrParse        = errors.New("unexpected payload")
	ErrCircuitOpen  = errors.New("circuit breaker open")
	ErrInvalidToken = errors.New("invalid API token")
)

// NetworkError is a transport failure: DNS, connection refused, timeout, cancellation.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// UpstreamError is a non-2xx HTTP status or a failure envelope.
// StatusCode is 0 when the HTTP exchange succeeded but the envelope reported an error.
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream: %s", e.Op, e.Message)
}

func (e *UpstreamError) Unwrap() []error {
	if e.InvalidToken() {
		return []error{ErrUpstream, ErrInvalidToken}
	}
	return []error{ErrUpstream}
}

// InvalidToken reports whether the upstream rejected the API token.
func (e *UpstreamError) InvalidToken() bool {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "invalid key")
}

// NotFound reports whether the upstream rejected the request because the
// station or city does not exist.
func (e *UpstreamError) NotFound() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "unknown station") || strings.Contains(msg, "unknown city")
}

// ParseError is a payload that could not be decoded into the expected variant.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// IsNotFound reports whether err is an UpstreamError for an unknown station.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.NotFound()
}
