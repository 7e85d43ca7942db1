// Package errors defines the unified error taxonomy for routing operations.
// Provider-specific failures are mapped onto these types so the fallback
// layer and the gateway can treat upstream errors uniformly.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a routing failure.
type Code string

const (
	// CodeNoProviderAvailable means every enabled provider failed its
	// availability check. Fatal to the request, never retried internally.
	CodeNoProviderAvailable Code = "no_provider_available"

	// CodeProviderCallFailed wraps an opaque upstream failure from a
	// provider call. Recovered by a single fallback attempt when policy
	// allows, otherwise surfaced.
	CodeProviderCallFailed Code = "provider_call_failed"

	// CodeRoutingTimeout is the synthetic error raised when the fallback
	// deadline fires before the primary call resolves. Treated exactly
	// like a call failure for fallback purposes.
	CodeRoutingTimeout Code = "routing_timeout"
)

// RouterError is the standardized error for routing and provider calls.
// It carries enough context for error handling, logging, and the gateway
// response without exposing upstream internals.
type RouterError struct {
	Code       Code   `json:"code"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Retryable  bool   `json:"-"`

	// Err is the wrapped upstream cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, model=%s)", e.Code, e.Message, e.Provider, e.Model)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status code the gateway should respond with.
func (e *RouterError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	switch e.Code {
	case CodeNoProviderAvailable:
		return http.StatusServiceUnavailable
	case CodeRoutingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// NewNoProviderAvailableError reports that zero enabled providers are usable.
func NewNoProviderAvailableError(message string) *RouterError {
	return &RouterError{
		Code:       CodeNoProviderAvailable,
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Retryable:  false,
	}
}

// NewProviderCallFailedError wraps an upstream provider failure.
func NewProviderCallFailedError(provider, model string, err error) *RouterError {
	msg := "provider call failed"
	if err != nil {
		msg = err.Error()
	}
	return &RouterError{
		Code:      CodeProviderCallFailed,
		Message:   msg,
		Provider:  provider,
		Model:     model,
		Retryable: true,
		Err:       err,
	}
}

// NewRoutingTimeoutError reports that the fallback deadline fired first.
func NewRoutingTimeoutError(provider, model string, timeoutMs int64) *RouterError {
	return &RouterError{
		Code:       CodeRoutingTimeout,
		StatusCode: http.StatusGatewayTimeout,
		Message:    fmt.Sprintf("provider did not respond within %dms", timeoutMs),
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewProviderHTTPError maps an upstream HTTP status onto a RouterError.
// Used by provider adapters when the backend answers with a non-2xx status.
func NewProviderHTTPError(provider, model string, statusCode int, message string) *RouterError {
	return &RouterError{
		Code:       CodeProviderCallFailed,
		StatusCode: statusCode,
		Message:    message,
		Provider:   provider,
		Model:      model,
		Retryable:  isRetryableStatus(statusCode),
	}
}

// isRetryableStatus reports whether a fallback attempt against another
// provider could plausibly succeed. Client errors (bad request, payload
// too large) would fail identically everywhere.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusNotFound:
		return true
	}
	return statusCode >= 500
}

// IsNoProviderAvailable reports whether err is a no-provider-available error.
func IsNoProviderAvailable(err error) bool {
	return hasCode(err, CodeNoProviderAvailable)
}

// IsProviderCallFailed reports whether err is a wrapped provider failure.
func IsProviderCallFailed(err error) bool {
	return hasCode(err, CodeProviderCallFailed)
}

// IsRoutingTimeout reports whether err is the synthetic deadline error.
func IsRoutingTimeout(err error) bool {
	return hasCode(err, CodeRoutingTimeout)
}

// IsRetryable reports whether a fallback attempt is worthwhile for err.
// Routing timeouts and call failures are; no-provider-available is not.
func IsRetryable(err error) bool {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Retryable
	}
	// Unclassified upstream errors are treated as opaque call failures.
	return err != nil
}

func hasCode(err error, code Code) bool {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
