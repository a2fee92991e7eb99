package repositories

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRepository_Create(t *testing.T) {
	tests := []struct {
		name    string
		dbErr   error
		wantErr error
	}{
		{name: "ok"},
		{
			name:    "duplicate email",
			dbErr:   &pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"},
			wantErr: models.ErrDuplicateAccount,
		},
		{
			name:    "account number taken",
			dbErr:   &pgconn.PgError{Code: "23505", ConstraintName: "accounts_pkey"},
			wantErr: models.ErrAccountNumberTaken,
		},
		{
			name:    "connection lost",
			dbErr:   sql.ErrConnDone,
			wantErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewAccountRepository(db)
			now := time.Now()
			acct := &models.Account{
				AccountNumber: "ACC1234ABCD",
				HolderName:    "Jane Doe",
				Email:         "jane@example.com",
				Balance:       decimal.RequireFromString("100.00"),
				CreatedAt:     now,
				UpdatedAt:     now,
			}

			exp := mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
				WithArgs(acct.AccountNumber, acct.HolderName, acct.Email, acct.Balance, now, now)
			if tt.dbErr != nil {
				exp.WillReturnError(tt.dbErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err := repo.Create(context.Background(), acct)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_GetByNumber(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"account_number", "holder_name", "email", "balance", "created_at", "updated_at"}).
		AddRow("ACC1", "Jane", "jane@example.com", "60.00", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).WithArgs("ACC1").WillReturnRows(rows)

	acct, err := repo.GetByNumber(context.Background(), "ACC1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", acct.HolderName)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(60)))

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).WithArgs("ACC2").WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByNumber(context.Background(), "ACC2")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"account_number", "holder_name", "email", "balance", "created_at", "updated_at"}).
		AddRow("ACC1", "Jane", "jane@example.com", "60.00", now, now).
		AddRow("ACC2", "John", "john@example.com", "40.00", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY account_number")).WithArgs(100).WillReturnRows(rows)

	accts, err := repo.List(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, accts, 2)
	assert.Equal(t, "ACC2", accts[1].AccountNumber)
	assert.True(t, accts[1].Balance.Equal(decimal.NewFromInt(40)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ExistsByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("jane@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_GetOutcome(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_operations")).
		WithArgs("ACC1", "TXN1:DEBIT").
		WillReturnError(sql.ErrNoRows)

	outcome, err := repo.GetOutcome(context.Background(), "ACC1", "TXN1:DEBIT")
	require.NoError(t, err)
	assert.Nil(t, outcome)

	rows := sqlmock.NewRows([]string{"account_number", "idempotency_key", "amount", "status", "reason", "balance_after", "created_at"}).
		AddRow("ACC1", "TXN1:DEBIT", "-50.00", "DECLINED", "INSUFFICIENT_FUNDS", "10.00", now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_operations")).
		WithArgs("ACC1", "TXN1:DEBIT").
		WillReturnRows(rows)

	outcome, err = repo.GetOutcome(context.Background(), "ACC1", "TXN1:DEBIT")
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, models.OutcomeDeclined, outcome.Status)
	assert.Equal(t, models.ReasonInsufficientFunds, outcome.Reason)
	assert.True(t, outcome.Balance.Equal(decimal.NewFromInt(10)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func acceptedDebit(now time.Time) *models.LedgerOutcome {
	return &models.LedgerOutcome{
		AccountNumber:  "ACC1",
		IdempotencyKey: "TXN1:DEBIT",
		Amount:         decimal.RequireFromString("-40.00"),
		Status:         models.OutcomeAccepted,
		Balance:        decimal.RequireFromString("60.00"),
		CreatedAt:      now,
	}
}

func TestAccountRepository_SaveOutcome_Accepted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	now := time.Now()
	o := acceptedDebit(now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_operations")).
		WithArgs("ACC1", "TXN1:DEBIT", o.Amount, "ACCEPTED", "", o.Balance, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).
		WithArgs(o.Balance, now, "ACC1", decimal.RequireFromString("100.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SaveOutcome(context.Background(), o, decimal.RequireFromString("100.00"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_SaveOutcome_BalanceMoved(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	now := time.Now()
	o := acceptedDebit(now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_operations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SaveOutcome(context.Background(), o, decimal.RequireFromString("100.00"))
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)
	assert.True(t, models.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_SaveOutcome_AlreadyApplied(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	o := acceptedDebit(time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_operations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SaveOutcome(context.Background(), o, decimal.RequireFromString("100.00"))
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_SaveOutcome_DeclinedSkipsBalance(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)
	now := time.Now()
	o := &models.LedgerOutcome{
		AccountNumber:  "ACC1",
		IdempotencyKey: "TXN2:DEBIT",
		Amount:         decimal.RequireFromString("-50.00"),
		Status:         models.OutcomeDeclined,
		Reason:         models.ReasonInsufficientFunds,
		Balance:        decimal.RequireFromString("10.00"),
		CreatedAt:      now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_operations")).
		WithArgs("ACC1", "TXN2:DEBIT", o.Amount, "DECLINED", "INSUFFICIENT_FUNDS", o.Balance, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.SaveOutcome(context.Background(), o, o.Balance))
	assert.NoError(t, mock.ExpectationsWereMet())
}
