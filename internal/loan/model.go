package loan

import (
	"errors"
	"time"
)

var (
	// ErrLoanNotFound indicates the referenced loan does not exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrInvalidStateTransition indicates the loan is not in the source state
	// the requested transition requires.
	ErrInvalidStateTransition = errors.New("invalid loan state transition")

	// ErrIneligiblePrincipal indicates the requested principal exceeds the
	// borrower's evaluated maximum.
	ErrIneligiblePrincipal = errors.New("principal exceeds eligibility")

	// ErrEligibilityRevoked indicates the approval-time re-check no longer
	// supports the requested principal; the loan auto-transitions to Rejected.
	ErrEligibilityRevoked = errors.New("eligibility revoked at approval")

	// ErrStatusConflict is returned by repositories when the conditional
	// status write observed a different status. The service resolves it;
	// it never escapes to callers.
	ErrStatusConflict = errors.New("loan status conflict")
)

// Status is a loan lifecycle state. Transitions only move forward:
// Pending -> Approved|Rejected, Approved -> Active, Active -> Repaid|Defaulted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusActive    Status = "active"
	StatusRepaid    Status = "repaid"
	StatusDefaulted Status = "defaulted"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusRepaid, StatusDefaulted:
		return true
	default:
		return false
	}
}

// RejectionEligibilityRevoked is recorded on loans auto-rejected because the
// approval-time eligibility re-check failed.
const RejectionEligibilityRevoked = "eligibility_revoked"

// Loan is the lifecycle record for one borrowing. Principal is in minor
// currency units; RateBps is the annual interest rate in basis points.
// EligibilityAtApproval snapshots the figure the approval decision used;
// later balance changes never retroactively justify or invalidate it.
type Loan struct {
	ID                    string
	BorrowerID            string
	AccountID             string
	Principal             int64
	RateBps               int64
	TermMonths            int
	Status                Status
	EligibilityAtApproval int64
	DisbursementTxID      string
	Reason                string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Transition is one audit row: who moved the loan between which states, when.
type Transition struct {
	LoanID string
	From   Status
	To     Status
	Actor  string
	At     time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	BorrowerID string
	Status     Status
}
