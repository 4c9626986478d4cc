package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for cross-component failure classification. Components
// recover locally (failover, retry); boundaries convert to result objects.
var (
	// ErrNoData indicates no source returned usable data.
	ErrNoData = errors.New("no data available")
	// ErrValidationFailed indicates corrupted data or a failed pre-trade rule.
	// Never retried.
	ErrValidationFailed = errors.New("validation failed")
	// ErrAuthFailure indicates invalid broker credentials or an expired
	// session. Never retried; triggers a token refresh attempt upstream.
	ErrAuthFailure = errors.New("authentication failure")
	// ErrTransient indicates a timeout or 5xx that may succeed on retry.
	ErrTransient = errors.New("transient error")
	// ErrCircuitBreaker indicates trading is paused by the circuit breaker.
	ErrCircuitBreaker = errors.New("circuit breaker active")
	// ErrMarketClosed indicates the market-hours predicate failed.
	ErrMarketClosed = errors.New("market closed")
)

// NoDataError wraps ErrNoData with context.
func NoDataError(ticker string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w for %s: %v", ErrNoData, ticker, cause)
	}
	return fmt.Errorf("%w for %s", ErrNoData, ticker)
}

// IsRetryable reports whether an error may succeed on retry. Auth and
// validation failures are terminal for the current call.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailure) || errors.Is(err, ErrValidationFailed) {
		return false
	}
	return true
}

// IsHardFailure reports whether the failing source should be marked
// unavailable until restart (auth errors, permanent denials).
func IsHardFailure(err error) bool {
	return errors.Is(err, ErrAuthFailure)
}
