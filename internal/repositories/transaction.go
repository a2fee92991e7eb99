package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
)

// TransactionRepository stores saga transaction records in PostgreSQL.
type TransactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (transaction_id, from_account, to_account, amount, status, failure_reason, created_at, updated_at, completed_at)
		VALUES (:transaction_id, :from_account, :to_account, :amount, :status, :failure_reason, :created_at, :updated_at, :completed_at)
	`

	_, err := sqlx.NamedExecContext(ctx, r.db, query, txn)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{txn.TransactionID, txn.FromAccount, txn.ToAccount, txn.Amount, txn.Status},
		"error", err,
	)

	return err
}

// GetByID returns the transaction or models.ErrTransactionNotFound.
func (r *TransactionRepository) GetByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	const query = `
		SELECT transaction_id, from_account, to_account, amount, status, failure_reason, created_at, updated_at, completed_at
		FROM transactions
		WHERE transaction_id = $1
	`

	var txn models.Transaction
	err := r.db.GetContext(ctx, &txn, query, transactionID)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{transactionID},
		"result", txn.Status,
		"error", err,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrTransactionNotFound, transactionID)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// Update persists txn if its stored status is still expected.
func (r *TransactionRepository) Update(ctx context.Context, txn *models.Transaction, expected models.TransactionStatus) error {
	query := `
		UPDATE transactions
		SET status = $1, failure_reason = $2, updated_at = $3, completed_at = $4
		WHERE transaction_id = $5 AND status = $6
	`
	args := []any{string(txn.Status), txn.FailureReason, txn.UpdatedAt, txn.CompletedAt, txn.TransactionID, string(expected)}

	res, err := r.db.ExecContext(ctx, query, args...)
	var rowsAffected int64
	if res != nil {
		rowsAffected, _ = res.RowsAffected()
	}

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", args,
		"result", rowsAffected,
		"error", err,
	)

	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: transaction %s is no longer %s", models.ErrConcurrentUpdate, txn.TransactionID, expected)
	}
	return nil
}

// ListByStatus returns transactions in any of the given statuses, oldest first.
func (r *TransactionRepository) ListByStatus(ctx context.Context, statuses ...models.TransactionStatus) ([]*models.Transaction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}

	query, args, err := sqlx.In(`
		SELECT transaction_id, from_account, to_account, amount, status, failure_reason, created_at, updated_at, completed_at
		FROM transactions
		WHERE status IN (?)
		ORDER BY created_at
	`, raw)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var txns []*models.Transaction
	err = r.db.SelectContext(ctx, &txns, query, args...)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", args,
		"result", len(txns),
		"error", err,
	)

	return txns, err
}

// ListByAccount returns transactions sent from or to accountNumber, newest first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountNumber string) ([]*models.Transaction, error) {
	const query = `
		SELECT transaction_id, from_account, to_account, amount, status, failure_reason, created_at, updated_at, completed_at
		FROM transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC
	`

	var txns []*models.Transaction
	err := r.db.SelectContext(ctx, &txns, query, accountNumber)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{accountNumber},
		"result", len(txns),
		"error", err,
	)

	return txns, err
}

// List returns at most limit transactions, newest first.
func (r *TransactionRepository) List(ctx context.Context, limit int) ([]*models.Transaction, error) {
	const query = `
		SELECT transaction_id, from_account, to_account, amount, status, failure_reason, created_at, updated_at, completed_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1
	`

	var txns []*models.Transaction
	err := r.db.SelectContext(ctx, &txns, query, limit)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{limit},
		"result", len(txns),
		"error", err,
	)

	return txns, err
}
