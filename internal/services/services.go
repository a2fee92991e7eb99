package services

//go:generate mockgen -source=services.go -destination=services_mock.go -package=services

import (
	"context"

	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
)

// EventPublisher publishes an event to a topic, keyed for partition affinity.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// Locker runs fn while holding an exclusive lock on key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Dispatcher runs background tasks.
type Dispatcher interface {
	Submit(ctx context.Context, task func(ctx context.Context)) error
}

// AccountStore persists accounts and the outcomes of applied ledger operations.
type AccountStore interface {
	Create(ctx context.Context, acct *models.Account) error
	GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error)
	List(ctx context.Context, limit int) ([]*models.Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	GetOutcome(ctx context.Context, accountNumber, idempotencyKey string) (*models.LedgerOutcome, error)
	SaveOutcome(ctx context.Context, outcome *models.LedgerOutcome, previous decimal.Decimal) error
}

// TransactionStore persists saga transaction records.
type TransactionStore interface {
	Create(ctx context.Context, txn *models.Transaction) error
	GetByID(ctx context.Context, transactionID string) (*models.Transaction, error)
	Update(ctx context.Context, txn *models.Transaction, expected models.TransactionStatus) error
	ListByAccount(ctx context.Context, accountNumber string) ([]*models.Transaction, error)
	List(ctx context.Context, limit int) ([]*models.Transaction, error)
	ListByStatus(ctx context.Context, statuses ...models.TransactionStatus) ([]*models.Transaction, error)
}

// ListLimit caps listing queries.
const ListLimit = 100

func accountLockKey(accountNumber string) string {
	return "account:" + accountNumber
}

func transactionLockKey(transactionID string) string {
	return "txn:" + transactionID
}
