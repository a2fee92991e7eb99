package models

import "fmt"

// TransactionStatus is a state of the transfer saga.
type TransactionStatus string

const (
	StatusPending         TransactionStatus = "PENDING"
	StatusDebitInitiated  TransactionStatus = "DEBIT_INITIATED"
	StatusDebitCompleted  TransactionStatus = "DEBIT_COMPLETED"
	StatusCreditInitiated TransactionStatus = "CREDIT_INITIATED"
	StatusCreditCompleted TransactionStatus = "CREDIT_COMPLETED"
	StatusCompleted       TransactionStatus = "COMPLETED"
	StatusFailed          TransactionStatus = "FAILED"
	// StatusRolledBack is defined for compatibility with stored records but never produced:
	// no compensating debit reversal exists.
	StatusRolledBack TransactionStatus = "ROLLED_BACK"
)

// InFlightStatuses lists every non-terminal status, in saga order.
var InFlightStatuses = []TransactionStatus{
	StatusPending,
	StatusDebitInitiated,
	StatusDebitCompleted,
	StatusCreditInitiated,
	StatusCreditCompleted,
}

// ParseTransactionStatus validates and converts a raw string status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	status := TransactionStatus(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return status, nil
}

// IsValid reports whether the status belongs to the saga lifecycle.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusDebitInitiated, StatusDebitCompleted, StatusCreditInitiated,
		StatusCreditCompleted, StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is allowed.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s.IsTerminal() || !s.IsValid() {
		return false
	}
	if next == StatusFailed {
		return true
	}

	switch s {
	case StatusPending:
		return next == StatusDebitInitiated
	case StatusDebitInitiated:
		return next == StatusDebitCompleted
	case StatusDebitCompleted:
		return next == StatusCreditInitiated
	case StatusCreditInitiated:
		return next == StatusCreditCompleted || next == StatusCompleted
	case StatusCreditCompleted:
		return next == StatusCompleted
	default:
		return false
	}
}

func (s TransactionStatus) String() string {
	return string(s)
}
