package models

import (
	"errors"
	"fmt"
)

// Error taxonomy of the analysis core. Callers branch with errors.Is; the
// wrapped chain carries the upstream detail.
var (
	// ErrInvalidInput marks a caller error. Never retried, surfaced
	// immediately.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamTimeout marks a bounded upstream call that did not return
	// in time. Recoverable at the supervisor level.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamError marks an upstream failure other than a timeout.
	// Recoverable at the supervisor level.
	ErrUpstreamError = errors.New("upstream error")

	// ErrAggregationConflict marks an atomic personality update that could
	// not be applied within the retry ceiling. Never silently dropped.
	ErrAggregationConflict = errors.New("aggregation conflict")

	// ErrSynthesisFailed marks a portfolio run with zero usable tickers.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// InvalidInputf wraps ErrInvalidInput with a formatted detail message.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// UpstreamErrorf wraps ErrUpstreamError with the failing source and cause.
func UpstreamErrorf(source string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamError, source, err)
}

// UpstreamTimeoutf wraps ErrUpstreamTimeout with the failing source.
func UpstreamTimeoutf(source string) error {
	return fmt.Errorf("%w: %s", ErrUpstreamTimeout, source)
}

// IsRecoverable reports whether the supervisor may degrade the affected
// ticker's contribution instead of failing the whole run.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamError)
}
