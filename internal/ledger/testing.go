package ledger

import (
	"time"

	"github.com/google/uuid"
)

// SeedAccount is a test helper that provisions an account with a preset
// balance when using the in-memory store. It bypasses the transaction log, so
// tests that assert the balance/log invariant should fund accounts through
// Deposit instead.
func SeedAccount(s Store, ownerID string, balance int64) Account {
	account := Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	}
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.accounts[account.ID] = account
	}
	return account
}
