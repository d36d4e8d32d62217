package ports

import (
	"context"
	"errors"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrInvalidOrder         = errors.New("order rejected as invalid by the exchange")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")

	// Data Errors
	ErrOutOfOrderData  = errors.New("candles are not strictly increasing in time")
	ErrMalformedCandle = errors.New("malformed candle")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// ErrorClass groups errors by how the caller should react to them.
type ErrorClass int

const (
	// ClassUnknown errors are not retried and abort only the current action.
	ClassUnknown ErrorClass = iota
	// ClassRecoverable errors (network, rate limit) are retried with backoff.
	ClassRecoverable
	// ClassFatal errors abort the action for this trade; the loop continues.
	ClassFatal
	// ClassData errors reject the whole input (e.g. a backtest run).
	ClassData
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRecoverable:
		return "recoverable"
	case ClassFatal:
		return "fatal"
	case ClassData:
		return "data"
	default:
		return "unknown"
	}
}

// Classify maps an error to its ErrorClass using the sentinels above.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassFatal
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrExchangeUnavailable),
		errors.Is(err, ErrTimeout):
		return ClassRecoverable
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrOrderPlacementFailed),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrAuthenticationFailed):
		return ClassFatal
	case errors.Is(err, ErrOutOfOrderData), errors.Is(err, ErrMalformedCandle):
		return ClassData
	default:
		return ClassUnknown
	}
}

// IsRecoverable is shorthand for Classify(err) == ClassRecoverable.
func IsRecoverable(err error) bool {
	return Classify(err) == ClassRecoverable
}
