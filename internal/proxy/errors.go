// Package proxy forwards requests to upstream service instances with
// per-service circuit breaking and instance selection.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Forwarding failure reasons.
const (
	// ReasonDiscoveryUnavailable means no usable instance could be found.
	ReasonDiscoveryUnavailable = "discovery_unavailable"

	// ReasonBreakerOpen means the service's circuit breaker rejected the
	// request without attempting it.
	ReasonBreakerOpen = "breaker_open"

	// ReasonTransportFailure means the upstream call itself failed.
	ReasonTransportFailure = "transport_failure"
)

// ForwardError describes why a request could not be forwarded.
type ForwardError struct {
	Service string
	Reason  string
	Err     error
}

// Error implements error.
func (e *ForwardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("forward to %s failed (%s): %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("forward to %s failed (%s)", e.Service, e.Reason)
}

// Unwrap supports errors.Is and errors.As.
func (e *ForwardError) Unwrap() error { return e.Err }

// StatusCode maps the failure to the HTTP status returned to the client.
func (e *ForwardError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// Message returns the client-facing description of the failure.
func (e *ForwardError) Message() string {
	switch e.Reason {
	case ReasonBreakerOpen:
		return "Service temporarily unavailable due to repeated failures"
	case ReasonDiscoveryUnavailable:
		return "No healthy instances available"
	default:
		return "Upstream request failed"
	}
}

// AsForwardError extracts a ForwardError from err, if present.
func AsForwardError(err error) (*ForwardError, bool) {
	var fe *ForwardError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
