package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
)

// TransferService owns transaction records and drives the transfer saga.
type TransferService struct {
	txns           TransactionStore
	locker         Locker
	publisher      EventPublisher
	dispatcher     Dispatcher
	publishRetries uint64
	now            func() time.Time
}

// NewTransferService creates a new TransferService. Step requests are published with up to
// publishRetries retries.
func NewTransferService(
	txns TransactionStore,
	locker Locker,
	publisher EventPublisher,
	dispatcher Dispatcher,
	publishRetries uint64,
) *TransferService {
	return &TransferService{
		txns:           txns,
		locker:         locker,
		publisher:      publisher,
		dispatcher:     dispatcher,
		publishRetries: publishRetries,
		now:            time.Now,
	}
}

// InitiateTransfer records a PENDING transaction and starts the debit step in the background.
// It returns without waiting for the saga to progress.
func (s *TransferService) InitiateTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (*models.Transaction, error) {
	txn, err := models.NewTransaction(from, to, amount, s.now())
	if err != nil {
		logger.Log.Warnw("transfer rejected", "from", from, "to", to, "amount", amount, "error", err)
		return nil, err
	}

	if err := s.txns.Create(ctx, txn); err != nil {
		logger.Log.Errorw("failed to create transaction", "transaction_id", txn.TransactionID, "error", err)
		return nil, err
	}

	logger.Log.Infow("transfer initiated",
		"transaction_id", txn.TransactionID,
		"from", from,
		"to", to,
		"amount", amount,
	)

	id := txn.TransactionID
	if err := s.dispatcher.Submit(ctx, func(ctx context.Context) {
		if err := s.resumeByID(ctx, id); err != nil {
			logger.Log.Errorw("failed to start debit", "transaction_id", id, "error", err)
		}
	}); err != nil {
		// The record stays PENDING and is picked up by Recover.
		logger.Log.Errorw("failed to schedule debit", "transaction_id", id, "error", err)
	}

	return txn, nil
}

// HandleDebitCompleted advances a transaction whose debit was accepted and requests the credit.
func (s *TransferService) HandleDebitCompleted(ctx context.Context, evt models.DebitCompletedEvent) error {
	return s.withTransaction(ctx, evt.TransactionID, func(ctx context.Context, txn *models.Transaction) error {
		if evt.AccountNumber != txn.FromAccount {
			return fmt.Errorf("%w: debit-completed for %s names account %s", models.ErrInvalidEvent, txn.TransactionID, evt.AccountNumber)
		}

		switch txn.Status {
		case models.StatusDebitInitiated:
			if err := s.save(ctx, txn, models.StatusDebitCompleted); err != nil {
				return err
			}
			return s.resume(ctx, txn)
		case models.StatusDebitCompleted:
			return s.resume(ctx, txn)
		default:
			logger.Log.Debugw("duplicate debit-completed ignored", "transaction_id", txn.TransactionID, "status", txn.Status)
			return nil
		}
	})
}

// HandleCreditCompleted completes a transaction whose credit was accepted.
func (s *TransferService) HandleCreditCompleted(ctx context.Context, evt models.CreditCompletedEvent) error {
	return s.withTransaction(ctx, evt.TransactionID, func(ctx context.Context, txn *models.Transaction) error {
		if evt.AccountNumber != txn.ToAccount {
			return fmt.Errorf("%w: credit-completed for %s names account %s", models.ErrInvalidEvent, txn.TransactionID, evt.AccountNumber)
		}

		switch txn.Status {
		case models.StatusCreditInitiated, models.StatusCreditCompleted:
			return s.complete(ctx, txn)
		default:
			logger.Log.Debugw("credit-completed ignored", "transaction_id", txn.TransactionID, "status", txn.Status)
			return nil
		}
	})
}

// HandleTransactionFailed moves a non-terminal transaction to FAILED and publishes transfer-failed.
// No compensation is attempted: a failed credit leaves the debited amount with the ledger.
func (s *TransferService) HandleTransactionFailed(ctx context.Context, evt models.TransactionFailedEvent) error {
	return s.withTransaction(ctx, evt.TransactionID, func(ctx context.Context, txn *models.Transaction) error {
		if txn.Status.IsTerminal() {
			logger.Log.Debugw("transaction-failed ignored", "transaction_id", txn.TransactionID, "status", txn.Status)
			return nil
		}

		failed := models.TransferFailedEvent{
			TransactionID: txn.TransactionID,
			FromAccount:   txn.FromAccount,
			ToAccount:     txn.ToAccount,
			Amount:        txn.Amount,
			Reason:        evt.Reason,
		}
		if err := s.publish(ctx, models.TopicTransferFailed, txn.TransactionID, failed); err != nil {
			return err
		}

		from := txn.Status
		if err := txn.Fail(evt.Reason, s.now()); err != nil {
			return err
		}
		if err := s.txns.Update(ctx, txn, from); err != nil {
			return err
		}

		if evt.OperationType == models.OperationCredit {
			logger.Log.Errorw("credit failed after debit; debited amount was not returned",
				"transaction_id", txn.TransactionID,
				"from", txn.FromAccount,
				"to", txn.ToAccount,
				"amount", txn.Amount,
				"reason", evt.Reason,
			)
		} else {
			logger.Log.Warnw("transfer failed", "transaction_id", txn.TransactionID, "reason", evt.Reason)
		}
		return nil
	})
}

// Recover re-drives every non-terminal transaction by repeating the step it is waiting on.
// It returns the number of transactions re-driven.
func (s *TransferService) Recover(ctx context.Context) (int, error) {
	txns, err := s.txns.ListByStatus(ctx, models.InFlightStatuses...)
	if err != nil {
		logger.Log.Errorw("failed to list in-flight transactions", "error", err)
		return 0, err
	}

	var (
		errs    []error
		resumed int
	)
	for _, txn := range txns {
		if err := s.resumeByID(ctx, txn.TransactionID); err != nil {
			logger.Log.Errorw("failed to recover transaction", "transaction_id", txn.TransactionID, "error", err)
			errs = append(errs, err)
			continue
		}
		resumed++
	}

	logger.Log.Infow("in-flight transactions recovered", "found", len(txns), "resumed", resumed)
	return resumed, errors.Join(errs...)
}

// GetTransaction returns the last known state of a transaction.
func (s *TransferService) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.txns.GetByID(ctx, transactionID)
}

// ListTransactions returns up to ListLimit transactions, newest first.
func (s *TransferService) ListTransactions(ctx context.Context) ([]*models.Transaction, error) {
	txns, err := s.txns.List(ctx, ListLimit)
	if err != nil {
		logger.Log.Errorw("failed to list transactions", "error", err)
		return nil, err
	}
	return txns, nil
}

// ListByAccount returns the transactions an account sent or received, newest first.
func (s *TransferService) ListByAccount(ctx context.Context, accountNumber string) ([]*models.Transaction, error) {
	if strings.TrimSpace(accountNumber) == "" {
		return nil, models.ErrInvalidAccount
	}
	txns, err := s.txns.ListByAccount(ctx, accountNumber)
	if err != nil {
		logger.Log.Errorw("failed to list transactions", "account", accountNumber, "error", err)
		return nil, err
	}
	return txns, nil
}

func (s *TransferService) resumeByID(ctx context.Context, transactionID string) error {
	return s.withTransaction(ctx, transactionID, s.resume)
}

// resume performs the outbound step owed by the current status.
func (s *TransferService) resume(ctx context.Context, txn *models.Transaction) error {
	switch txn.Status {
	case models.StatusPending:
		if err := s.save(ctx, txn, models.StatusDebitInitiated); err != nil {
			return err
		}
		return s.requestStep(ctx, txn.DebitOperation())
	case models.StatusDebitInitiated:
		return s.requestStep(ctx, txn.DebitOperation())
	case models.StatusDebitCompleted:
		if err := s.requestStep(ctx, txn.CreditOperation()); err != nil {
			return err
		}
		return s.save(ctx, txn, models.StatusCreditInitiated)
	case models.StatusCreditInitiated:
		return s.requestStep(ctx, txn.CreditOperation())
	case models.StatusCreditCompleted:
		return s.complete(ctx, txn)
	default:
		return nil
	}
}

func (s *TransferService) complete(ctx context.Context, txn *models.Transaction) error {
	evt := models.TransferCompletedEvent{
		TransactionID: txn.TransactionID,
		FromAccount:   txn.FromAccount,
		ToAccount:     txn.ToAccount,
		Amount:        txn.Amount,
	}
	if err := s.publish(ctx, models.TopicTransferCompleted, txn.TransactionID, evt); err != nil {
		return err
	}
	if err := s.save(ctx, txn, models.StatusCompleted); err != nil {
		return err
	}

	logger.Log.Infow("transfer completed", "transaction_id", txn.TransactionID, "amount", txn.Amount)
	return nil
}

// withTransaction loads the transaction under its lock. Unknown ids are logged and skipped.
func (s *TransferService) withTransaction(ctx context.Context, transactionID string, fn func(ctx context.Context, txn *models.Transaction) error) error {
	return s.locker.WithLock(ctx, transactionLockKey(transactionID), func(ctx context.Context) error {
		txn, err := s.txns.GetByID(ctx, transactionID)
		if errors.Is(err, models.ErrTransactionNotFound) {
			logger.Log.Warnw("event for unknown transaction dropped", "transaction_id", transactionID)
			return nil
		}
		if err != nil {
			return err
		}
		return fn(ctx, txn)
	})
}

func (s *TransferService) save(ctx context.Context, txn *models.Transaction, next models.TransactionStatus) error {
	from := txn.Status
	if err := txn.TransitionTo(next, s.now()); err != nil {
		return err
	}
	if err := s.txns.Update(ctx, txn, from); err != nil {
		logger.Log.Errorw("failed to save transition", "transaction_id", txn.TransactionID, "from", from, "to", next, "error", err)
		return err
	}

	logger.Log.Infow("transaction status changed", "transaction_id", txn.TransactionID, "from", from, "to", next)
	return nil
}

func (s *TransferService) requestStep(ctx context.Context, op models.LedgerOperation) error {
	evt := models.NewStepRequest(op)
	return s.publish(ctx, models.TopicTransactionInitiated, evt.TransactionID, evt)
}

// publish retries retryable publisher errors with exponential backoff.
func (s *TransferService) publish(ctx context.Context, topic, key string, event any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	err := backoff.Retry(func() error {
		err := s.publisher.Publish(ctx, topic, key, event)
		if err != nil && !models.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.publishRetries), ctx))
	if err != nil {
		logger.Log.Errorw("failed to publish", "topic", topic, "key", key, "error", err)
		return err
	}
	return nil
}
