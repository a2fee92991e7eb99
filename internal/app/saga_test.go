package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sbilibin2017/gw-payflow/internal/bus"
	"github.com/sbilibin2017/gw-payflow/internal/locks"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/sbilibin2017/gw-payflow/internal/repositories"
	"github.com/sbilibin2017/gw-payflow/internal/services"
	"github.com/sbilibin2017/gw-payflow/internal/workers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type saga struct {
	bus       *bus.MemoryBus
	accounts  *repositories.MemoryAccountRepository
	txns      *repositories.MemoryTransactionRepository
	ledger    *services.LedgerService
	transfers *services.TransferService

	seq          atomic.Int64
	stepRequests atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
}

func newSaga(t *testing.T) *saga {
	t.Helper()

	s := &saga{
		bus: bus.NewMemoryBus(4, bus.RetryPolicy{
			InitialInterval: time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			MaxElapsedTime:  time.Second,
		}),
		accounts: repositories.NewMemoryAccountRepository(),
		txns:     repositories.NewMemoryTransactionRepository(),
	}

	locker := locks.NewKeyedMutex()
	pool := workers.NewPool(4, 256)

	s.ledger = services.NewLedgerService(s.accounts, locker, s.bus)
	s.transfers = services.NewTransferService(s.txns, locker, s.bus, pool, 3)

	Subscribe(s.bus, Merge(LedgerRoutes(s.ledger), OrchestratorRoutes(s.transfers)))
	s.bus.Subscribe(models.TopicTransactionInitiated, s.count(&s.stepRequests))
	s.bus.Subscribe(models.TopicTransferCompleted, s.count(&s.completed))
	s.bus.Subscribe(models.TopicTransferFailed, s.count(&s.failed))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
		_ = s.bus.Close()
	})
	return s
}

func (s *saga) count(n *atomic.Int64) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Message) error {
		n.Add(1)
		return nil
	}
}

func (s *saga) open(t *testing.T, balance string) string {
	t.Helper()

	email := fmt.Sprintf("holder-%d@example.com", s.seq.Add(1))
	acct, err := s.ledger.CreateAccount(context.Background(), "Holder", email, decimal.RequireFromString(balance))
	require.NoError(t, err)
	return acct.AccountNumber
}

func (s *saga) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()

	b, ok, err := s.ledger.Resolve(context.Background(), number)
	require.NoError(t, err)
	require.True(t, ok)
	return b
}

// settle waits for the transaction to reach a terminal status and for the bus to drain.
func (s *saga) settle(t *testing.T, id string) *models.Transaction {
	t.Helper()

	var txn *models.Transaction
	require.Eventually(t, func() bool {
		got, err := s.transfers.GetTransaction(context.Background(), id)
		if err != nil {
			return false
		}
		txn = got
		return got.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.bus.Wait(ctx))
	return txn
}

func TestSaga_TransferCompletes(t *testing.T) {
	s := newSaga(t)
	a := s.open(t, "100.00")
	b := s.open(t, "0.00")

	txn, err := s.transfers.InitiateTransfer(context.Background(), a, b, decimal.RequireFromString("40.00"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, txn.Status)

	done := s.settle(t, txn.TransactionID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.True(t, decimal.RequireFromString("60.00").Equal(s.balance(t, a)))
	assert.True(t, decimal.RequireFromString("40.00").Equal(s.balance(t, b)))
	assert.EqualValues(t, 2, s.stepRequests.Load())
	assert.EqualValues(t, 1, s.completed.Load())
}

func TestSaga_InsufficientFunds(t *testing.T) {
	s := newSaga(t)
	a := s.open(t, "10.00")
	b := s.open(t, "0.00")

	txn, err := s.transfers.InitiateTransfer(context.Background(), a, b, decimal.RequireFromString("50.00"))
	require.NoError(t, err)

	done := s.settle(t, txn.TransactionID)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, string(models.ReasonInsufficientFunds), done.FailureReason)
	assert.True(t, decimal.RequireFromString("10.00").Equal(s.balance(t, a)))
	assert.True(t, s.balance(t, b).IsZero())
	assert.EqualValues(t, 1, s.stepRequests.Load())
	assert.EqualValues(t, 1, s.failed.Load())
}

func TestSaga_UnknownDestination(t *testing.T) {
	s := newSaga(t)
	a := s.open(t, "100.00")

	txn, err := s.transfers.InitiateTransfer(context.Background(), a, "ACCMISSING", decimal.RequireFromString("25.00"))
	require.NoError(t, err)

	done := s.settle(t, txn.TransactionID)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, string(models.ReasonAccountNotFound), done.FailureReason)
	// Дебет не возвращается
	assert.True(t, decimal.RequireFromString("75.00").Equal(s.balance(t, a)))
}

func TestSaga_SameAccountRejected(t *testing.T) {
	s := newSaga(t)
	a := s.open(t, "100.00")

	_, err := s.transfers.InitiateTransfer(context.Background(), a, a, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, models.ErrSameAccount)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.bus.Wait(ctx))

	inFlight, err := s.txns.ListByStatus(context.Background(), models.InFlightStatuses...)
	require.NoError(t, err)
	assert.Empty(t, inFlight)
	assert.Zero(t, s.stepRequests.Load())
}

func TestSaga_DuplicateDebitCompleted(t *testing.T) {
	s := newSaga(t)
	a := s.open(t, "100.00")
	b := s.open(t, "0.00")

	txn, err := s.transfers.InitiateTransfer(context.Background(), a, b, decimal.RequireFromString("40.00"))
	require.NoError(t, err)
	s.settle(t, txn.TransactionID)

	dup := models.DebitCompletedEvent{TransactionID: txn.TransactionID, AccountNumber: a, Amount: txn.Amount}
	require.NoError(t, s.bus.Publish(context.Background(), models.TopicDebitCompleted, txn.TransactionID, dup))
	require.NoError(t, s.bus.Publish(context.Background(), models.TopicDebitCompleted, txn.TransactionID, dup))

	done := s.settle(t, txn.TransactionID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.EqualValues(t, 2, s.stepRequests.Load())
	assert.True(t, decimal.RequireFromString("40.00").Equal(s.balance(t, b)))
}

func TestSaga_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	s := newSaga(t)
	a := s.open(t, "100.00")
	b := s.open(t, "0.00")
	c := s.open(t, "0.00")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := b
			if i%2 == 1 {
				to = c
			}
			txn, err := s.transfers.InitiateTransfer(context.Background(), a, to, decimal.RequireFromString("15.00"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids = append(ids, txn.TransactionID)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	var completed int
	for _, id := range ids {
		if s.settle(t, id).Status == models.StatusCompleted {
			completed++
		}
	}

	// 100 / 15 = 6 переводов
	assert.Equal(t, 6, completed)
	assert.True(t, decimal.RequireFromString("10.00").Equal(s.balance(t, a)))
	total := s.balance(t, a).Add(s.balance(t, b)).Add(s.balance(t, c))
	assert.True(t, decimal.NewFromInt(100).Equal(total))
}

func TestSaga_RecoverRedrivesInFlight(t *testing.T) {
	s := newSaga(t)
	a := s.open(t, "100.00")
	b := s.open(t, "0.00")

	// A transaction left at DEBIT_INITIATED by a crashed process.
	stuck, err := models.NewTransaction(a, b, decimal.RequireFromString("30.00"), time.Now())
	require.NoError(t, err)
	stuck.Status = models.StatusDebitInitiated
	require.NoError(t, s.txns.Create(context.Background(), stuck))

	n, err := s.transfers.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done := s.settle(t, stuck.TransactionID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, decimal.RequireFromString("70.00").Equal(s.balance(t, a)))
	assert.True(t, decimal.RequireFromString("30.00").Equal(s.balance(t, b)))

	// Повторный Recover ничего не делает
	n, err = s.transfers.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSaga_MalformedEventDropped(t *testing.T) {
	s := newSaga(t)

	require.NoError(t, s.bus.PublishMessage(context.Background(), bus.Message{
		Topic: models.TopicTransactionInitiated,
		Key:   "TXN1",
		Value: []byte(`{"transactionId":"TXN1"`),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.bus.Wait(ctx))
	assert.EqualValues(t, 1, s.stepRequests.Load())
}
