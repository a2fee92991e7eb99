package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is a money transfer driven through the saga. It is owned by the orchestrator.
type Transaction struct {
	TransactionID string            `json:"transactionId" db:"transaction_id"`           // Generated identifier, TXN + 12 hex chars
	FromAccount   string            `json:"fromAccount" db:"from_account"`               // Source account number
	ToAccount     string            `json:"toAccount" db:"to_account"`                   // Destination account number
	Amount        decimal.Decimal   `json:"amount" db:"amount"`                          // Transfer amount, always positive
	Status        TransactionStatus `json:"status" db:"status"`                          // Current saga state
	FailureReason string            `json:"failureReason,omitempty" db:"failure_reason"` // Set when Status is FAILED
	CreatedAt     time.Time         `json:"createdAt" db:"created_at"`                   // Creation timestamp
	UpdatedAt     time.Time         `json:"updatedAt" db:"updated_at"`                   // Last transition timestamp
	CompletedAt   *time.Time        `json:"completedAt,omitempty" db:"completed_at"`     // Set when Status is COMPLETED
}

// NewTransactionID generates a transaction identifier.
func NewTransactionID() string {
	return "TXN" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// ValidateTransfer checks a transfer request before any record is created.
func ValidateTransfer(from, to string, amount decimal.Decimal) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return ErrInvalidAccount
	}
	if from == to {
		return ErrSameAccount
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !HasMoneyScale(amount) {
		return ErrAmountPrecision
	}
	return nil
}

// NewTransaction builds a PENDING transaction for a validated request.
func NewTransaction(from, to string, amount decimal.Decimal, now time.Time) (*Transaction, error) {
	if err := ValidateTransfer(from, to, amount); err != nil {
		return nil, err
	}
	return &Transaction{
		TransactionID: NewTransactionID(),
		FromAccount:   from,
		ToAccount:     to,
		Amount:        amount,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TransitionTo moves the transaction to next if the state machine allows it.
func (t *Transaction) TransitionTo(next TransactionStatus, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	if next == StatusCompleted {
		t.CompletedAt = &now
	}
	return nil
}

// Fail moves the transaction to FAILED and records the reason.
func (t *Transaction) Fail(reason string, now time.Time) error {
	if err := t.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	t.FailureReason = reason
	return nil
}

// DebitOperation derives the ledger operation for the debit step.
func (t *Transaction) DebitOperation() LedgerOperation {
	return LedgerOperation{
		AccountNumber:  t.FromAccount,
		Amount:         t.Amount.Neg(),
		IdempotencyKey: IdempotencyKey(t.TransactionID, OperationDebit),
	}
}

// CreditOperation derives the ledger operation for the credit step.
func (t *Transaction) CreditOperation() LedgerOperation {
	return LedgerOperation{
		AccountNumber:  t.ToAccount,
		Amount:         t.Amount,
		IdempotencyKey: IdempotencyKey(t.TransactionID, OperationCredit),
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}
