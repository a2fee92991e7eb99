package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OperationType is the saga step a ledger operation belongs to.
type OperationType string

const (
	OperationDebit  OperationType = "DEBIT"
	OperationCredit OperationType = "CREDIT"
)

// IsValid reports whether the operation type is DEBIT or CREDIT.
func (o OperationType) IsValid() bool {
	return o == OperationDebit || o == OperationCredit
}

// FailureReason tags a declined ledger outcome.
type FailureReason string

const (
	ReasonInsufficientFunds FailureReason = "INSUFFICIENT_FUNDS"
	ReasonAccountNotFound   FailureReason = "ACCOUNT_NOT_FOUND"
)

// OutcomeStatus is the result of applying a ledger operation.
type OutcomeStatus string

const (
	OutcomeAccepted OutcomeStatus = "ACCEPTED"
	OutcomeDeclined OutcomeStatus = "DECLINED"
)

// IdempotencyKey derives the deterministic key of a saga step, e.g. "TXN123:DEBIT".
func IdempotencyKey(transactionID string, step OperationType) string {
	return transactionID + ":" + string(step)
}

// ParseIdempotencyKey splits a key produced by IdempotencyKey.
func ParseIdempotencyKey(key string) (transactionID string, step OperationType, err error) {
	i := strings.LastIndex(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidIdempotency, key)
	}
	transactionID, step = key[:i], OperationType(key[i+1:])
	if !step.IsValid() {
		return "", "", fmt.Errorf("%w: unknown step in %q", ErrInvalidIdempotency, key)
	}
	return transactionID, step, nil
}

// LedgerOperation requests a signed balance change on one account.
// A negative amount is a debit, a positive amount a credit.
type LedgerOperation struct {
	AccountNumber  string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// MoneyScale is the number of decimal places stored for amounts and balances.
const MoneyScale = 2

// HasMoneyScale reports whether d is representable with MoneyScale decimal places.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// Validate checks the operation before any lock is taken.
func (op LedgerOperation) Validate() error {
	if strings.TrimSpace(op.AccountNumber) == "" {
		return ErrInvalidAccount
	}
	if op.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if !HasMoneyScale(op.Amount) {
		return ErrAmountPrecision
	}
	if _, _, err := ParseIdempotencyKey(op.IdempotencyKey); err != nil {
		return err
	}
	return nil
}

// Type reports whether the operation is a debit or a credit.
func (op LedgerOperation) Type() OperationType {
	if op.Amount.IsNegative() {
		return OperationDebit
	}
	return OperationCredit
}

// TransactionID returns the transaction the operation was derived from.
func (op LedgerOperation) TransactionID() string {
	id, _, _ := ParseIdempotencyKey(op.IdempotencyKey)
	return id
}

// LedgerOutcome is the recorded result of a ledger operation.
type LedgerOutcome struct {
	AccountNumber  string          `db:"account_number"`
	IdempotencyKey string          `db:"idempotency_key"`
	Amount         decimal.Decimal `db:"amount"`        // Signed amount as requested
	Status         OutcomeStatus   `db:"status"`        // ACCEPTED or DECLINED
	Reason         FailureReason   `db:"reason"`        // Empty when accepted
	Balance        decimal.Decimal `db:"balance_after"` // Balance after the operation
	CreatedAt      time.Time       `db:"created_at"`
	Replayed       bool            `db:"-"` // True when returned from a previous application
}

// Accepted reports whether the balance was changed.
func (o *LedgerOutcome) Accepted() bool {
	return o.Status == OutcomeAccepted
}
