package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error by how the boundary must treat it.
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION"         // rejected synchronously, never retried
	KindNotFound          ErrorKind = "NOT_FOUND"          // logged and dropped
	KindInsufficientFunds ErrorKind = "INSUFFICIENT_FUNDS" // business outcome
	KindConflict          ErrorKind = "CONFLICT"           // duplicate resource
	KindInfrastructure    ErrorKind = "INFRASTRUCTURE"     // retried with backoff
)

// Base errors. Specific errors wrap one of these so callers can branch on the class.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("conflict")
)

var (
	ErrSameAccount         = fmt.Errorf("%w: cannot transfer to the same account", ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrAmountPrecision     = fmt.Errorf("%w: amount has more than %d decimal places", ErrValidation, MoneyScale)
	ErrInvalidAccount      = fmt.Errorf("%w: account number is required", ErrValidation)
	ErrInvalidIdempotency  = fmt.Errorf("%w: malformed idempotency key", ErrValidation)
	ErrInvalidEvent        = fmt.Errorf("%w: malformed event", ErrValidation)
	ErrInvalidTransition   = fmt.Errorf("%w: invalid status transition", ErrValidation)
	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrDuplicateAccount    = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrAccountNumberTaken  = fmt.Errorf("%w: account number already taken", ErrConflict)
	ErrInvalidHolder       = fmt.Errorf("%w: holder name and email are required", ErrValidation)
	ErrNegativeBalance     = fmt.Errorf("%w: initial balance must not be negative", ErrValidation)
	ErrConcurrentUpdate    = errors.New("record changed concurrently")
)

// KindOf maps an error onto the error taxonomy. Anything unclassified is
// treated as infrastructure and therefore retryable.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInfrastructure
	}
}

// IsRetryable reports whether re-invoking the failed operation may succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == KindInfrastructure
}
