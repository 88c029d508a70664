package saga

import (
	"errors"
	"time"
)

var (
	// ErrSagaNotFound indicates no saga record matches the operation id.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrSagaCompensationFailed indicates both the forward posting and its
	// compensation failed. The saga stays in compensating for the recovery
	// sweep and is routed to the manual-intervention topic, never dropped.
	ErrSagaCompensationFailed = errors.New("saga compensation failed")
)

// Kind names the cross-store operation a saga executes.
type Kind string

const (
	KindDisbursement Kind = "disbursement"
	KindRepayment    Kind = "repayment"
)

// Status tracks a saga's progress.
type Status string

const (
	StatusPending      Status = "pending"
	StatusCommitted    Status = "committed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

// Record is the durable state of one cross-store operation. It references
// ledger and loan entities by identifier only; it never duplicates their
// authoritative state. Persisted so recovery can resume after a crash.
type Record struct {
	OperationID      string
	Kind             Kind
	LoanID           string
	AccountID        string
	Amount           int64
	Status           Status
	LedgerTxID       string
	CompensationTxID string
	RetryCount       int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
