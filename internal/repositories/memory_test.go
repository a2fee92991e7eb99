package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAccountRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	acct := &models.Account{AccountNumber: "ACC1", HolderName: "Jane", Email: "jane@example.com", Balance: decimal.NewFromInt(100)}
	require.NoError(t, repo.Create(ctx, acct))
	assert.ErrorIs(t, repo.Create(ctx, acct), models.ErrDuplicateAccount)
	assert.ErrorIs(t, repo.Create(ctx, &models.Account{AccountNumber: "ACC1", Email: "other@example.com"}), models.ErrAccountNumberTaken)

	exists, err := repo.ExistsByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.GetByNumber(ctx, "ACC404")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)

	require.NoError(t, repo.Create(ctx, &models.Account{AccountNumber: "ACC0", HolderName: "John", Email: "john@example.com"}))
	all, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ACC0", all[0].AccountNumber)
	assert.Equal(t, "ACC1", all[1].AccountNumber)

	limited, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	outcome := &models.LedgerOutcome{
		AccountNumber:  "ACC1",
		IdempotencyKey: "TXN1:DEBIT",
		Amount:         decimal.NewFromInt(-40),
		Status:         models.OutcomeAccepted,
		Balance:        decimal.NewFromInt(60),
		CreatedAt:      time.Now(),
	}

	// баланс изменился с момента чтения
	assert.ErrorIs(t, repo.SaveOutcome(ctx, outcome, decimal.NewFromInt(90)), models.ErrConcurrentUpdate)

	require.NoError(t, repo.SaveOutcome(ctx, outcome, decimal.NewFromInt(100)))
	assert.ErrorIs(t, repo.SaveOutcome(ctx, outcome, decimal.NewFromInt(60)), models.ErrConcurrentUpdate)

	got, err := repo.GetByNumber(ctx, "ACC1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(60)))

	recorded, err := repo.GetOutcome(ctx, "ACC1", "TXN1:DEBIT")
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.True(t, recorded.Accepted())

	missing, err := repo.GetOutcome(ctx, "ACC1", "TXN1:CREDIT")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryTransactionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository()
	now := time.Now()

	first, err := models.NewTransaction("ACC1", "ACC2", decimal.NewFromInt(5), now)
	require.NoError(t, err)
	second, err := models.NewTransaction("ACC1", "ACC3", decimal.NewFromInt(7), now.Add(time.Second))
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))
	assert.ErrorIs(t, repo.Create(ctx, first), models.ErrConflict)

	// изменения снаружи не должны попадать в хранилище
	first.Status = models.StatusFailed
	stored, err := repo.GetByID(ctx, first.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	require.NoError(t, stored.TransitionTo(models.StatusDebitInitiated, now))
	require.NoError(t, repo.Update(ctx, stored, models.StatusPending))
	assert.ErrorIs(t, repo.Update(ctx, stored, models.StatusPending), models.ErrConcurrentUpdate)

	inFlight, err := repo.ListByStatus(ctx, models.InFlightStatuses...)
	require.NoError(t, err)
	require.Len(t, inFlight, 2)
	assert.Equal(t, first.TransactionID, inFlight[0].TransactionID)
	assert.Equal(t, second.TransactionID, inFlight[1].TransactionID)

	byAccount, err := repo.ListByAccount(ctx, "ACC3")
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, second.TransactionID, byAccount[0].TransactionID)

	fromACC1, err := repo.ListByAccount(ctx, "ACC1")
	require.NoError(t, err)
	require.Len(t, fromACC1, 2)
	assert.Equal(t, second.TransactionID, fromACC1[0].TransactionID, "newest first")

	latest, err := repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, second.TransactionID, latest[0].TransactionID)

	none, err := repo.ListByAccount(ctx, "ACC404")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.GetByID(ctx, "TXN404")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}
