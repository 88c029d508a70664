package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]Account
	transactions map[string][]Transaction
	byKey        map[string]Transaction
}

// NewInMemoryStore creates a concurrency-safe in-memory ledger store useful
// for unit tests and local development.
func NewInMemoryStore() Store {
	return &inMemoryStore{
		accounts:     make(map[string]Account),
		transactions: make(map[string][]Transaction),
		byKey:        make(map[string]Transaction),
	}
}

func (s *inMemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	return nil
}

func (s *inMemoryStore) GetAccount(_ context.Context, accountID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *inMemoryStore) ApplyTransaction(_ context.Context, accountID string, expectedVersion int64, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if _, exists := s.byKey[tx.IdempotencyKey]; exists {
		return ErrIdempotentReplay
	}
	if account.Version != expectedVersion {
		return ErrVersionConflict
	}

	account.Balance = tx.BalanceAfter
	account.Version++
	s.accounts[accountID] = account
	s.transactions[accountID] = append(s.transactions[accountID], tx)
	s.byKey[tx.IdempotencyKey] = tx
	return nil
}

func (s *inMemoryStore) FindByIdempotencyKey(_ context.Context, key string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byKey[key]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *inMemoryStore) ListTransactions(_ context.Context, accountID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, len(s.transactions[accountID]))
	copy(out, s.transactions[accountID])
	return out, nil
}

func (s *inMemoryStore) TransactionsInWindow(_ context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.transactions[accountID] {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *inMemoryStore) SumByKind(_ context.Context, accountID string, kind Kind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, tx := range s.transactions[accountID] {
		if tx.Kind == kind {
			sum += tx.Amount
		}
	}
	return sum, nil
}
