package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service exposes balance mutations with per-account optimistic concurrency
// and idempotency-key deduplication.
type Service struct {
	store      Store
	retryLimit int
}

// NewService builds a ledger service. retryLimit bounds the read-compute-write
// retry loop; values below 1 are raised to 1.
func NewService(store Store, retryLimit int) *Service {
	if retryLimit < 1 {
		retryLimit = 1
	}
	return &Service{store: store, retryLimit: retryLimit}
}

// Open provisions a new account with a zero balance.
func (s *Service) Open(ctx context.Context, ownerID string) (Account, error) {
	if ownerID == "" {
		return Account{}, fmt.Errorf("owner id is required")
	}
	account := Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Balance:   0,
		Version:   0,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Account fetches the account record.
func (s *Service) Account(ctx context.Context, accountID string) (Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// Balance returns the current balance for the account.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Deposit credits the account. Replaying an idempotency key returns the prior
// posting without re-applying.
func (s *Service) Deposit(ctx context.Context, accountID string, amount int64, key string) (Posting, error) {
	if amount <= 0 {
		return Posting{}, ErrAmountNotPositive
	}
	return s.post(ctx, accountID, amount, KindDeposit, key)
}

// Withdraw debits the account, failing with ErrInsufficientFunds when the
// balance cannot cover the amount.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount int64, key string) (Posting, error) {
	if amount <= 0 {
		return Posting{}, ErrAmountNotPositive
	}
	return s.post(ctx, accountID, -amount, KindWithdrawal, key)
}

// PostSystem records a signed posting on behalf of the consistency
// coordinator (disbursement credits, repayment debits, interest accrual).
// The same concurrency and idempotency rules apply as for caller postings.
func (s *Service) PostSystem(ctx context.Context, accountID string, amount int64, kind Kind, key string) (Posting, error) {
	switch kind {
	case KindDisbursement, KindRepayment, KindInterestAccrual:
	default:
		return Posting{}, fmt.Errorf("kind %q is not a system posting kind", kind)
	}
	if amount == 0 {
		return Posting{}, ErrAmountNotPositive
	}
	return s.post(ctx, accountID, amount, kind, key)
}

// History returns the account's transactions inside [from, to), oldest first.
func (s *Service) History(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.TransactionsInWindow(ctx, accountID, from, to)
}

// ListTransactions returns the full transaction log for the account, oldest
// first. Read-only; used by admin and reconciliation views.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID)
}

// SumByKind totals the signed amounts of the account's transactions of the
// given kind. Used by the reconciliation sweep.
func (s *Service) SumByKind(ctx context.Context, accountID string, kind Kind) (int64, error) {
	return s.store.SumByKind(ctx, accountID, kind)
}

func (s *Service) post(ctx context.Context, accountID string, amount int64, kind Kind, key string) (Posting, error) {
	if key == "" {
		key = uuid.NewString()
	}

	if prior, err := s.store.FindByIdempotencyKey(ctx, key); err == nil {
		return replayPosting(prior), nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return Posting{}, err
	}

	for attempt := 0; attempt < s.retryLimit; attempt++ {
		account, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			return Posting{}, err
		}

		newBalance := account.Balance + amount
		if newBalance < 0 {
			return Posting{}, ErrInsufficientFunds
		}

		tx := Transaction{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			Kind:           kind,
			Amount:         amount,
			BalanceAfter:   newBalance,
			IdempotencyKey: key,
			CreatedAt:      time.Now().UTC(),
		}

		err = s.store.ApplyTransaction(ctx, accountID, account.Version, tx)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if errors.Is(err, ErrIdempotentReplay) {
			// Lost a race against another writer using the same key.
			prior, lookupErr := s.store.FindByIdempotencyKey(ctx, key)
			if lookupErr != nil {
				return Posting{}, lookupErr
			}
			return replayPosting(prior), nil
		}
		if err != nil {
			return Posting{}, err
		}

		return Posting{
			TransactionID: tx.ID,
			AccountID:     accountID,
			Kind:          kind,
			Amount:        amount,
			Balance:       newBalance,
		}, nil
	}

	return Posting{}, ErrConcurrentModification
}

func replayPosting(tx Transaction) Posting {
	return Posting{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Kind:          tx.Kind,
		Amount:        tx.Amount,
		Balance:       tx.BalanceAfter,
		Replayed:      true,
	}
}
