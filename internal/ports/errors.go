package ports

import (
	"errors"
	"fmt"
	"time"
)

// Standard application-level errors. Adapters wrap underlying transport
// errors with these so the engine never observes raw provider exceptions.
var (
	// Provider failures
	ErrTransientProvider = errors.New("transient provider failure")   // timeout, 5xx, connection reset; retried
	ErrPermanentRequest  = errors.New("permanent request error")      // 4xx validation/business error; never retried
	ErrRateLimited       = errors.New("provider rate limit exceeded") // 429; retried with extended backoff
	ErrTimeout           = errors.New("operation timed out")          // per-call timeout elapsed
	ErrCircuitOpen       = errors.New("circuit breaker is open")      // fast-fail while a breaker is open
	ErrContextCanceled   = errors.New("operation canceled via context")

	// Trading errors
	ErrInsufficientData    = errors.New("insufficient market data")
	ErrUnprotectedPosition = errors.New("position left without protective orders")
	ErrRiskGateBlocked     = errors.New("risk gate vetoed new trading")
	ErrSubmissionAmbiguous = errors.New("order submission outcome is ambiguous")

	// General errors
	ErrNotFound           = errors.New("resource not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInsufficientFunds  = errors.New("insufficient buying power for operation")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Database errors
	ErrDuplicateEntry = errors.New("record already exists")
	ErrQueryFailed    = errors.New("database query failed")
)

// RateLimitError carries the provider-reported retry hint alongside
// ErrRateLimited so the gateway can extend its backoff accordingly.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the provider gave no hint
	Cause      error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, provider asks to retry after %s: %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("rate limited: %v", e.Cause)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IsTransient reports whether an error should be retried by the gateway.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientProvider) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout)
}
