package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
)

const accountNumberAttempts = 5

// LedgerService owns account balances and applies ledger operations.
type LedgerService struct {
	accounts  AccountStore
	locker    Locker
	publisher EventPublisher
	now       func() time.Time
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(accounts AccountStore, locker Locker, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		accounts:  accounts,
		locker:    locker,
		publisher: publisher,
		now:       time.Now,
	}
}

// Apply performs op at most once per idempotency key and publishes the step outcome.
//
// The balance is read, checked and written while holding the account lock. A key that was
// already applied returns the recorded outcome with Replayed set and the balance untouched.
// Declines are returned as outcomes, not errors. The outcome event is published after the lock
// is released; a publish error is returned so the caller redelivers the request, which then
// replays the recorded outcome and publishes again.
func (s *LedgerService) Apply(ctx context.Context, op models.LedgerOperation) (*models.LedgerOutcome, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	var outcome *models.LedgerOutcome
	err := s.locker.WithLock(ctx, accountLockKey(op.AccountNumber), func(ctx context.Context) error {
		o, err := s.apply(ctx, op)
		if err != nil {
			return err
		}
		outcome = o
		return nil
	})
	if err != nil {
		logger.Log.Errorw("failed to apply ledger operation",
			"account", op.AccountNumber,
			"idempotency_key", op.IdempotencyKey,
			"error", err,
		)
		return nil, err
	}

	logger.Log.Infow("ledger operation applied",
		"account", op.AccountNumber,
		"idempotency_key", op.IdempotencyKey,
		"amount", op.Amount,
		"status", outcome.Status,
		"reason", outcome.Reason,
		"balance", outcome.Balance,
		"replayed", outcome.Replayed,
	)

	if err := s.publishOutcome(ctx, op, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (s *LedgerService) apply(ctx context.Context, op models.LedgerOperation) (*models.LedgerOutcome, error) {
	prev, err := s.accounts.GetOutcome(ctx, op.AccountNumber, op.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		prev.Replayed = true
		return prev, nil
	}

	outcome := &models.LedgerOutcome{
		AccountNumber:  op.AccountNumber,
		IdempotencyKey: op.IdempotencyKey,
		Amount:         op.Amount,
		CreatedAt:      s.now(),
	}

	acct, err := s.accounts.GetByNumber(ctx, op.AccountNumber)
	if errors.Is(err, models.ErrAccountNotFound) {
		// Cannot be recorded against a missing account; recomputed on replay.
		outcome.Status = models.OutcomeDeclined
		outcome.Reason = models.ReasonAccountNotFound
		return outcome, nil
	}
	if err != nil {
		return nil, err
	}

	next := acct.Balance.Add(op.Amount)
	if next.IsNegative() {
		outcome.Status = models.OutcomeDeclined
		outcome.Reason = models.ReasonInsufficientFunds
		outcome.Balance = acct.Balance
	} else {
		outcome.Status = models.OutcomeAccepted
		outcome.Balance = next
	}

	if err := s.accounts.SaveOutcome(ctx, outcome, acct.Balance); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *LedgerService) publishOutcome(ctx context.Context, op models.LedgerOperation, outcome *models.LedgerOutcome) error {
	txnID := op.TransactionID()

	var (
		topic string
		event any
	)
	switch {
	case !outcome.Accepted():
		topic = models.TopicTransactionFailed
		event = models.TransactionFailedEvent{
			TransactionID: txnID,
			AccountNumber: op.AccountNumber,
			OperationType: op.Type(),
			Reason:        string(outcome.Reason),
		}
	case op.Type() == models.OperationDebit:
		topic = models.TopicDebitCompleted
		event = models.DebitCompletedEvent{TransactionID: txnID, AccountNumber: op.AccountNumber, Amount: op.Amount.Abs()}
	default:
		topic = models.TopicCreditCompleted
		event = models.CreditCompletedEvent{TransactionID: txnID, AccountNumber: op.AccountNumber, Amount: op.Amount.Abs()}
	}

	if err := s.publisher.Publish(ctx, topic, txnID, event); err != nil {
		logger.Log.Errorw("failed to publish ledger outcome", "topic", topic, "transaction_id", txnID, "error", err)
		return err
	}
	return nil
}

// HandleTransactionInitiated applies the step requested by a transaction-initiated event.
func (s *LedgerService) HandleTransactionInitiated(ctx context.Context, evt models.TransactionInitiatedEvent) error {
	_, err := s.Apply(ctx, evt.Operation())
	return err
}

// CreateAccount opens an account with a generated account number and publishes account-created.
func (s *LedgerService) CreateAccount(ctx context.Context, holderName, email string, initialBalance decimal.Decimal) (*models.Account, error) {
	holderName, email = strings.TrimSpace(holderName), strings.TrimSpace(email)
	if holderName == "" || email == "" {
		return nil, models.ErrInvalidHolder
	}
	if initialBalance.IsNegative() {
		return nil, models.ErrNegativeBalance
	}
	if !models.HasMoneyScale(initialBalance) {
		return nil, models.ErrAmountPrecision
	}

	exists, err := s.accounts.ExistsByEmail(ctx, email)
	if err != nil {
		logger.Log.Errorw("failed to check email", "email", email, "error", err)
		return nil, err
	}
	if exists {
		return nil, models.ErrDuplicateAccount
	}

	now := s.now()
	acct := &models.Account{
		HolderName: holderName,
		Email:      email,
		Balance:    initialBalance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for attempt := 1; ; attempt++ {
		acct.AccountNumber = models.NewAccountNumber()
		err = s.accounts.Create(ctx, acct)
		if !errors.Is(err, models.ErrAccountNumberTaken) || attempt == accountNumberAttempts {
			break
		}
	}
	if err != nil {
		logger.Log.Errorw("failed to create account", "email", email, "error", err)
		return nil, err
	}

	logger.Log.Infow("account created", "account", acct.AccountNumber, "holder", acct.HolderName)

	evt := models.AccountCreatedEvent{AccountNumber: acct.AccountNumber, HolderName: acct.HolderName}
	if err := s.publisher.Publish(ctx, models.TopicAccountCreated, acct.AccountNumber, evt); err != nil {
		logger.Log.Errorw("failed to publish account-created", "account", acct.AccountNumber, "error", err)
	}

	return acct, nil
}

// Resolve reports the balance of an account and whether it exists.
func (s *LedgerService) Resolve(ctx context.Context, accountNumber string) (decimal.Decimal, bool, error) {
	acct, err := s.accounts.GetByNumber(ctx, accountNumber)
	if errors.Is(err, models.ErrAccountNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return acct.Balance, true, nil
}

// ListAccounts returns up to ListLimit accounts ordered by account number.
func (s *LedgerService) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	accts, err := s.accounts.List(ctx, ListLimit)
	if err != nil {
		logger.Log.Errorw("failed to list accounts", "error", err)
		return nil, err
	}
	return accts, nil
}

// GetAccount returns an account or models.ErrAccountNotFound.
func (s *LedgerService) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	if strings.TrimSpace(accountNumber) == "" {
		return nil, models.ErrInvalidAccount
	}
	acct, err := s.accounts.GetByNumber(ctx, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}
