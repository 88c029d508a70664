package schedule

import (
	"errors"
	"time"
)

var (
	// ErrScheduleNotFound indicates no schedule exists for the loan.
	ErrScheduleNotFound = errors.New("repayment schedule not found")

	// ErrScheduleExists is returned by repositories when a schedule was
	// already generated for the loan. The service resolves it to the existing
	// schedule; generation happens exactly once.
	ErrScheduleExists = errors.New("repayment schedule already exists")

	// ErrOverpaymentNotAllowed indicates a payment larger than the remaining
	// total outstanding. Excess is never silently credited; callers must
	// refund through the ledger instead.
	ErrOverpaymentNotAllowed = errors.New("payment exceeds outstanding balance")

	// ErrPaymentNotFound indicates no payment matches the lookup.
	ErrPaymentNotFound = errors.New("payment not found")
)

// InstallmentStatus tracks one installment's lifecycle.
type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "pending"
	InstallmentPaid      InstallmentStatus = "paid"
	InstallmentOverdue   InstallmentStatus = "overdue"
	InstallmentDefaulted InstallmentStatus = "defaulted"
)

// Installment is one amortized repayment obligation. Amounts are minor
// currency units; AmountDue includes the interest component in InterestDue.
type Installment struct {
	LoanID      string
	Sequence    int
	DueDate     time.Time
	AmountDue   int64
	InterestDue int64
	AmountPaid  int64
	Status      InstallmentStatus
	PaidAt      time.Time
}

// Outstanding is what remains owed on the installment.
func (i Installment) Outstanding() int64 {
	remaining := i.AmountDue - i.AmountPaid
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Payment records one applied repayment, keyed by its idempotency key so a
// replay returns the original receipt without re-applying.
type Payment struct {
	ID               string
	LoanID           string
	Amount           int64
	IdempotencyKey   string
	OutstandingAfter int64
	Settled          bool
	CreatedAt        time.Time
}

// Receipt is the outcome of applying a payment.
type Receipt struct {
	PaymentID   string
	LoanID      string
	Amount      int64
	Outstanding int64
	LoanSettled bool
	Replayed    bool
}
