package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryAccountRepository keeps accounts and ledger outcomes in process memory.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
	emails   map[string]string
	outcomes map[string]models.LedgerOutcome
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts: make(map[string]models.Account),
		emails:   make(map[string]string),
		outcomes: make(map[string]models.LedgerOutcome),
	}
}

func (r *MemoryAccountRepository) Create(ctx context.Context, acct *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.emails[acct.Email]; ok {
		return models.ErrDuplicateAccount
	}
	if _, ok := r.accounts[acct.AccountNumber]; ok {
		return models.ErrAccountNumberTaken
	}
	r.accounts[acct.AccountNumber] = *acct
	r.emails[acct.Email] = acct.AccountNumber
	return nil
}

func (r *MemoryAccountRepository) GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[accountNumber]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrAccountNotFound, accountNumber)
	}
	return &acct, nil
}

func (r *MemoryAccountRepository) List(ctx context.Context, limit int) ([]*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		acct := acct
		out = append(out, &acct)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccountNumber < out[j].AccountNumber
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.emails[email]
	return ok, nil
}

func (r *MemoryAccountRepository) GetOutcome(ctx context.Context, accountNumber, idempotencyKey string) (*models.LedgerOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.outcomes[outcomeKey(accountNumber, idempotencyKey)]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *MemoryAccountRepository) SaveOutcome(ctx context.Context, outcome *models.LedgerOutcome, previous decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := outcomeKey(outcome.AccountNumber, outcome.IdempotencyKey)
	if _, ok := r.outcomes[key]; ok {
		return fmt.Errorf("%w: %s already applied to %s", models.ErrConcurrentUpdate, outcome.IdempotencyKey, outcome.AccountNumber)
	}

	if outcome.Accepted() {
		acct, ok := r.accounts[outcome.AccountNumber]
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrAccountNotFound, outcome.AccountNumber)
		}
		if !acct.Balance.Equal(previous) {
			return fmt.Errorf("%w: balance of %s", models.ErrConcurrentUpdate, outcome.AccountNumber)
		}
		if outcome.Balance.IsNegative() {
			return fmt.Errorf("%w: balance of %s would be negative", models.ErrValidation, outcome.AccountNumber)
		}
		acct.Balance = outcome.Balance
		acct.UpdatedAt = outcome.CreatedAt
		r.accounts[outcome.AccountNumber] = acct
	}

	r.outcomes[key] = *outcome
	return nil
}

func outcomeKey(accountNumber, idempotencyKey string) string {
	return accountNumber + "|" + idempotencyKey
}

// MemoryTransactionRepository keeps transaction records in process memory.
type MemoryTransactionRepository struct {
	mu   sync.RWMutex
	txns map[string]*models.Transaction
}

func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{txns: make(map[string]*models.Transaction)}
}

func (r *MemoryTransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.txns[txn.TransactionID]; ok {
		return fmt.Errorf("%w: transaction %s exists", models.ErrConflict, txn.TransactionID)
	}
	r.txns[txn.TransactionID] = txn.Clone()
	return nil
}

func (r *MemoryTransactionRepository) GetByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txn, ok := r.txns[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTransactionNotFound, transactionID)
	}
	return txn.Clone(), nil
}

func (r *MemoryTransactionRepository) Update(ctx context.Context, txn *models.Transaction, expected models.TransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.txns[txn.TransactionID]
	if !ok || stored.Status != expected {
		return fmt.Errorf("%w: transaction %s is no longer %s", models.ErrConcurrentUpdate, txn.TransactionID, expected)
	}
	r.txns[txn.TransactionID] = txn.Clone()
	return nil
}

func (r *MemoryTransactionRepository) ListByStatus(ctx context.Context, statuses ...models.TransactionStatus) ([]*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[models.TransactionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []*models.Transaction
	for _, txn := range r.txns {
		if want[txn.Status] {
			out = append(out, txn.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryTransactionRepository) ListByAccount(ctx context.Context, accountNumber string) ([]*models.Transaction, error) {
	return r.listNewest(func(txn *models.Transaction) bool {
		return txn.FromAccount == accountNumber || txn.ToAccount == accountNumber
	}, -1), nil
}

func (r *MemoryTransactionRepository) List(ctx context.Context, limit int) ([]*models.Transaction, error) {
	return r.listNewest(func(*models.Transaction) bool { return true }, limit), nil
}

// listNewest returns matching transactions newest first. A negative limit means no limit.
func (r *MemoryTransactionRepository) listNewest(match func(*models.Transaction) bool, limit int) []*models.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Transaction
	for _, txn := range r.txns {
		if match(txn) {
			out = append(out, txn.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
