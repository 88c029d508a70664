package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when an account lacks available balance to
	// cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAmountNotPositive indicates a caller-facing posting with a zero or
	// negative amount.
	ErrAmountNotPositive = errors.New("amount must be positive")

	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConcurrentModification indicates the bounded read-compute-write retry
	// loop exhausted its attempts because of version conflicts.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrVersionConflict is returned by stores when the conditional write
	// observed a version other than the one it was given. The service retries
	// on it; it never escapes to callers.
	ErrVersionConflict = errors.New("account version conflict")

	// ErrTransactionNotFound indicates no transaction matches the lookup.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrIdempotentReplay is returned by stores when a transaction with the
	// same idempotency key already exists. The service resolves it to the
	// prior posting; callers see a successful no-op, not an error.
	ErrIdempotentReplay = errors.New("idempotency key already applied")
)

// Kind classifies a ledger transaction.
type Kind string

const (
	KindDeposit         Kind = "deposit"
	KindWithdrawal      Kind = "withdrawal"
	KindDisbursement    Kind = "loan_disbursement"
	KindRepayment       Kind = "repayment"
	KindInterestAccrual Kind = "interest_accrual"
)

// Account is the balance record for a single owner. Balance is in minor
// currency units and must always equal the signed sum of the account's
// transaction log. Version increments on every mutation and backs the
// optimistic concurrency check.
type Account struct {
	ID        string
	OwnerID   string
	Balance   int64
	Version   int64
	CreatedAt time.Time
}

// Transaction is one immutable row of the append-only log.
type Transaction struct {
	ID             string
	AccountID      string
	Kind           Kind
	Amount         int64
	BalanceAfter   int64
	IdempotencyKey string
	CreatedAt      time.Time
}

// Posting is the outcome of a balance mutation.
type Posting struct {
	TransactionID string
	AccountID     string
	Kind          Kind
	Amount        int64
	Balance       int64
	Replayed      bool
}

// Store abstracts ledger persistence. ApplyTransaction must atomically update
// the account balance, bump the version and append the transaction row; it
// returns ErrVersionConflict when expectedVersion no longer matches and
// ErrIdempotentReplay when the idempotency key was already used.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID string) (Account, error)
	ApplyTransaction(ctx context.Context, accountID string, expectedVersion int64, tx Transaction) error
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	ListTransactions(ctx context.Context, accountID string) ([]Transaction, error)
	TransactionsInWindow(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)
	SumByKind(ctx context.Context, accountID string, kind Kind) (int64, error)
}
