package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
)

// LedgerSchema creates the tables owned by the ledger.
var LedgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_number VARCHAR(16) PRIMARY KEY,
		holder_name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_operations (
		account_number VARCHAR(16) NOT NULL REFERENCES accounts(account_number),
		idempotency_key VARCHAR(64) NOT NULL,
		amount NUMERIC(20,2) NOT NULL,
		status VARCHAR(16) NOT NULL,
		reason VARCHAR(32) NOT NULL DEFAULT '',
		balance_after NUMERIC(20,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account_number, idempotency_key)
	);`,
}

// TransactionSchema creates the tables owned by the orchestrator.
var TransactionSchema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		transaction_id VARCHAR(16) PRIMARY KEY,
		from_account VARCHAR(16) NOT NULL,
		to_account VARCHAR(16) NOT NULL,
		amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		status VARCHAR(32) NOT NULL,
		failure_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (status);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_from_account ON transactions (from_account, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to_account ON transactions (to_account, created_at DESC);`,
}

// Migrate applies the given statements in order.
func Migrate(ctx context.Context, db *sqlx.DB, statements []string) error {
	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)

		logger.Log.Infow("sql",
			"query", strings.Join(strings.Fields(stmt), " "),
			"error", err,
		)

		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
