package contracts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrPeerDataUnavailable marks an expected null fair value (no peers or thin peer data)
var ErrPeerDataUnavailable = errors.New("peer data unavailable")

// ErrMalformedPayload marks a provider body that could not be normalized
var ErrMalformedPayload = errors.New("malformed provider payload")

// ErrUnknownMetric marks a requested metric id missing from the catalog
var ErrUnknownMetric = errors.New("unknown metric id")

// DependencyCycleError is fatal to the metric domains it touches
type DependencyCycleError struct {
	Domains []string
	Nodes   []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle in domain(s) %s among metrics [%s]",
		strings.Join(e.Domains, ","), strings.Join(e.Nodes, ", "))
}

// ConfigurationError is fatal to one metric and reported once per run
type ConfigurationError struct {
	MetricID string
	Reason   string
	Cause    error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("metric %s: %s: %v", e.MetricID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("metric %s: %s", e.MetricID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// ExternalFetchError wraps a timeout, non-2xx or malformed provider response
type ExternalFetchError struct {
	Ticker     string
	Endpoint   string
	StatusCode int
	Cause      error
}

func (e *ExternalFetchError) Error() string {
	msg := fmt.Sprintf("fetch %s for %s", e.Endpoint, e.Ticker)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ExternalFetchError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the fetch failed on its deadline
func (e *ExternalFetchError) Timeout() bool {
	return errors.Is(e.Cause, context.DeadlineExceeded)
}
