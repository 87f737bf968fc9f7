package client

import (
	"context"
	"errors"
	"net"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryInvalidToken ErrorCategory = "invalid_token"
	ErrorCategoryNotFound     ErrorCategory = "not_found"
	ErrorCategoryCircuitOpen  ErrorCategory = "circuit_open"
	ErrorCategoryUpstream     ErrorCategory = "upstream"
	ErrorCategoryParsing      ErrorCategory = "parsing"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorCategoryTimeout
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrNetwork):
		return ErrorCategoryNetwork
	case errors.Is(err, ErrInvalidToken):
		return ErrorCategoryInvalidToken
	case IsNotFound(err):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrUpstream):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrParse):
		return ErrorCategoryParsing
	}
	return ErrorCategoryUnknown
}
