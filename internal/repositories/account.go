package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// AccountRepository stores accounts and applied ledger operations in PostgreSQL.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, acct *models.Account) error {
	query := `
		INSERT INTO accounts (account_number, holder_name, email, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	args := []any{acct.AccountNumber, acct.HolderName, acct.Email, acct.Balance, acct.CreatedAt, acct.UpdatedAt}

	_, err := r.db.ExecContext(ctx, query, args...)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", args,
		"error", err,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "email") {
			return models.ErrDuplicateAccount
		}
		return models.ErrAccountNumberTaken
	}
	return err
}

// List returns at most limit accounts ordered by account number.
func (r *AccountRepository) List(ctx context.Context, limit int) ([]*models.Account, error) {
	const query = `
		SELECT account_number, holder_name, email, balance, created_at, updated_at
		FROM accounts
		ORDER BY account_number
		LIMIT $1
	`

	var accts []*models.Account
	err := r.db.SelectContext(ctx, &accts, query, limit)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{limit},
		"result", len(accts),
		"error", err,
	)

	return accts, err
}

// GetByNumber returns the account or models.ErrAccountNotFound.
func (r *AccountRepository) GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	const query = `
		SELECT account_number, holder_name, email, balance, created_at, updated_at
		FROM accounts
		WHERE account_number = $1
	`

	var acct models.Account
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &acct, query, accountNumber)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{accountNumber},
		"result", acct.Balance,
		"error", err,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountNumber)
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// ExistsByEmail reports whether an account is registered with email.
func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, email)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", query,
		"args", []any{email},
		"result", exists,
		"error", err,
	)

	return exists, err
}

// GetOutcome returns the recorded outcome of an idempotency key on an account, or nil if none.
func (r *AccountRepository) GetOutcome(ctx context.Context, accountNumber, idempotencyKey string) (*models.LedgerOutcome, error) {
	const query = `
		SELECT account_number, idempotency_key, amount, status, reason, balance_after, created_at
		FROM ledger_operations
		WHERE account_number = $1 AND idempotency_key = $2
	`

	var outcome models.LedgerOutcome
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &outcome, query, accountNumber, idempotencyKey)

	// Log query, args, result, error
	logger.Log.Infow("sql",
		"query", strings.Join(strings.Fields(query), " "),
		"args", []any{accountNumber, idempotencyKey},
		"result", outcome.Status,
		"error", err,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// SaveOutcome records outcome and, if it was accepted, moves the balance from previous to
// outcome.Balance in the same transaction. It returns models.ErrConcurrentUpdate if the key
// was recorded or the balance changed since it was read.
func (r *AccountRepository) SaveOutcome(ctx context.Context, outcome *models.LedgerOutcome, previous decimal.Decimal) error {
	return WithTx(ctx, r.db, func(ctx context.Context) error {
		if err := r.insertOutcome(ctx, outcome); err != nil {
			return err
		}
		if !outcome.Accepted() {
			return nil
		}
		return r.updateBalance(ctx, outcome, previous)
	})
}

func (r *AccountRepository) insertOutcome(ctx context.Context, o *models.LedgerOutcome) error {
	query := `
		INSERT INTO ledger_operations (account_number, idempotency_key, amount, status, reason, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_number, idempotency_key) DO NOTHING
	`
	args := []any{o.AccountNumber, o.IdempotencyKey, o.Amount, string(o.Status), string(o.Reason), o.Balance, o.CreatedAt}

	res, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
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
		return fmt.Errorf("%w: %s already applied to %s", models.ErrConcurrentUpdate, o.IdempotencyKey, o.AccountNumber)
	}
	return nil
}

func (r *AccountRepository) updateBalance(ctx context.Context, o *models.LedgerOutcome, previous decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE account_number = $3 AND balance = $4
	`
	args := []any{o.Balance, o.CreatedAt, o.AccountNumber, previous}

	res, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
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
		return fmt.Errorf("%w: balance of %s", models.ErrConcurrentUpdate, o.AccountNumber)
	}
	return nil
}
