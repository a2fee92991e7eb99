package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Event bus topics.
const (
	TopicTransactionInitiated = "transaction-initiated"
	TopicDebitCompleted       = "debit-completed"
	TopicCreditCompleted      = "credit-completed"
	TopicTransactionFailed    = "transaction-failed"
	TopicTransferCompleted    = "transfer-completed"
	TopicTransferFailed       = "transfer-failed"
	TopicAccountCreated       = "account-created"
)

// Event is a record published on one topic. Consumers call Validate before use.
type Event interface {
	Validate() error
}

// TransactionInitiatedEvent asks the ledger to perform one saga step.
type TransactionInitiatedEvent struct {
	TransactionID string          `json:"transactionId"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"` // Magnitude, always positive
	OperationType OperationType   `json:"operationType"`
}

func (e TransactionInitiatedEvent) Validate() error {
	if err := requireFields(e.TransactionID, e.AccountNumber); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEvent)
	}
	if !HasMoneyScale(e.Amount) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidEvent, e.Amount, MoneyScale)
	}
	if !e.OperationType.IsValid() {
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidEvent, e.OperationType)
	}
	return nil
}

// Operation converts the request into a signed ledger operation.
func (e TransactionInitiatedEvent) Operation() LedgerOperation {
	amount := e.Amount
	if e.OperationType == OperationDebit {
		amount = amount.Neg()
	}
	return LedgerOperation{
		AccountNumber:  e.AccountNumber,
		Amount:         amount,
		IdempotencyKey: IdempotencyKey(e.TransactionID, e.OperationType),
	}
}

// NewStepRequest builds the request event for an operation derived from a transaction.
func NewStepRequest(op LedgerOperation) TransactionInitiatedEvent {
	return TransactionInitiatedEvent{
		TransactionID: op.TransactionID(),
		AccountNumber: op.AccountNumber,
		Amount:        op.Amount.Abs(),
		OperationType: op.Type(),
	}
}

// DebitCompletedEvent reports an accepted debit.
type DebitCompletedEvent struct {
	TransactionID string          `json:"transactionId"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
}

func (e DebitCompletedEvent) Validate() error {
	return requireFields(e.TransactionID, e.AccountNumber)
}

// CreditCompletedEvent reports an accepted credit.
type CreditCompletedEvent struct {
	TransactionID string          `json:"transactionId"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
}

func (e CreditCompletedEvent) Validate() error {
	return requireFields(e.TransactionID, e.AccountNumber)
}

// TransactionFailedEvent reports a declined step.
type TransactionFailedEvent struct {
	TransactionID string        `json:"transactionId"`
	AccountNumber string        `json:"accountNumber"`
	OperationType OperationType `json:"operationType"`
	Reason        string        `json:"reason"`
}

func (e TransactionFailedEvent) Validate() error {
	if strings.TrimSpace(e.TransactionID) == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidEvent)
	}
	return nil
}

// TransferCompletedEvent is published when a transfer settles.
type TransferCompletedEvent struct {
	TransactionID string          `json:"transactionId"`
	FromAccount   string          `json:"fromAccount"`
	ToAccount     string          `json:"toAccount"`
	Amount        decimal.Decimal `json:"amount"`
}

func (e TransferCompletedEvent) Validate() error {
	return requireFields(e.TransactionID, e.FromAccount, e.ToAccount)
}

// TransferFailedEvent is published when a transfer reaches FAILED.
type TransferFailedEvent struct {
	TransactionID string          `json:"transactionId"`
	FromAccount   string          `json:"fromAccount"`
	ToAccount     string          `json:"toAccount"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

func (e TransferFailedEvent) Validate() error {
	return requireFields(e.TransactionID, e.FromAccount, e.ToAccount)
}

// AccountCreatedEvent is published when an account is opened.
type AccountCreatedEvent struct {
	AccountNumber string `json:"accountNumber"`
	HolderName    string `json:"holderName"`
}

func (e AccountCreatedEvent) Validate() error {
	return requireFields(e.AccountNumber, e.HolderName)
}

func requireFields(values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: missing required field", ErrInvalidEvent)
		}
	}
	return nil
}
