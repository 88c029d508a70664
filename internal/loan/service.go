package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mosala-finance/mosala/internal/eligibility"
	"github.com/mosala-finance/mosala/internal/ledger"
)

// LedgerReader is the slice of the ledger the loan service reads for
// eligibility evaluation. It never writes ledger state.
type LedgerReader interface {
	Account(ctx context.Context, accountID string) (ledger.Account, error)
	History(ctx context.Context, accountID string, from, to time.Time) ([]ledger.Transaction, error)
}

// OutstandingFunc reports the remaining amount owed on an active loan. It is
// wired to the repayment scheduler after construction; while unset, the full
// principal counts as outstanding, which only makes eligibility stricter.
type OutstandingFunc func(ctx context.Context, loanID string) (int64, error)

// Service owns the loan lifecycle state machine.
type Service struct {
	repo        Repository
	ledger      LedgerReader
	policy      eligibility.Policy
	outstanding OutstandingFunc
}

// NewService builds a loan service.
func NewService(repo Repository, ledgerReader LedgerReader, policy eligibility.Policy) *Service {
	return &Service{repo: repo, ledger: ledgerReader, policy: policy}
}

// SetOutstandingProvider wires the scheduler's outstanding-amount lookup in
// after both services exist.
func (s *Service) SetOutstandingProvider(fn OutstandingFunc) {
	s.outstanding = fn
}

// ApplyInput captures a loan application.
type ApplyInput struct {
	BorrowerID string
	AccountID  string
	Principal  int64
	RateBps    int64
	TermMonths int
	Actor      string
}

// Apply records a loan application in Pending after checking the requested
// principal against the borrower's evaluated maximum. The figure is advisory;
// Approve re-evaluates before anything is authorized.
func (s *Service) Apply(ctx context.Context, input ApplyInput) (Loan, error) {
	if input.Principal <= 0 {
		return Loan{}, fmt.Errorf("principal must be positive")
	}
	if input.TermMonths <= 0 {
		return Loan{}, fmt.Errorf("term must be at least one month")
	}
	if input.RateBps < 0 {
		return Loan{}, fmt.Errorf("rate must not be negative")
	}

	max, err := s.Evaluate(ctx, input.BorrowerID, input.AccountID)
	if err != nil {
		return Loan{}, err
	}
	if input.Principal > max {
		return Loan{}, fmt.Errorf("%w: requested %d, maximum %d", ErrIneligiblePrincipal, input.Principal, max)
	}

	now := time.Now().UTC()
	loan := Loan{
		ID:         uuid.NewString(),
		BorrowerID: input.BorrowerID,
		AccountID:  input.AccountID,
		Principal:  input.Principal,
		RateBps:    input.RateBps,
		TermMonths: input.TermMonths,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	transition := Transition{LoanID: loan.ID, From: "", To: StatusPending, Actor: input.Actor, At: now}
	if err := s.repo.Create(ctx, loan, transition); err != nil {
		return Loan{}, err
	}
	return loan, nil
}

// Approve re-runs the eligibility check against fresh ledger history and, on
// pass, moves the loan to Approved with the figure snapshotted. A failed
// re-check auto-rejects the loan and surfaces ErrEligibilityRevoked; the
// originally displayed figure is never trusted as authorization.
func (s *Service) Approve(ctx context.Context, loanID, actor string) (Loan, error) {
	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if loan.Status != StatusPending {
		return loan, fmt.Errorf("%w: approve requires pending, loan is %s", ErrInvalidStateTransition, loan.Status)
	}

	max, err := s.Evaluate(ctx, loan.BorrowerID, loan.AccountID)
	if err != nil {
		return Loan{}, err
	}

	now := time.Now().UTC()
	if loan.Principal > max {
		rejected := loan
		rejected.Status = StatusRejected
		rejected.Reason = RejectionEligibilityRevoked
		rejected.UpdatedAt = now
		transition := Transition{LoanID: loan.ID, From: StatusPending, To: StatusRejected, Actor: actor, At: now}
		if err := s.repo.UpdateConditional(ctx, rejected, StatusPending, transition); err != nil {
			return Loan{}, lostRace(err)
		}
		return rejected, ErrEligibilityRevoked
	}

	approved := loan
	approved.Status = StatusApproved
	approved.EligibilityAtApproval = max
	approved.UpdatedAt = now
	transition := Transition{LoanID: loan.ID, From: StatusPending, To: StatusApproved, Actor: actor, At: now}
	if err := s.repo.UpdateConditional(ctx, approved, StatusPending, transition); err != nil {
		return Loan{}, lostRace(err)
	}
	return approved, nil
}

// Activate moves an Approved loan to Active once the disbursement credit is
// durably committed in the ledger. Callable only by the consistency
// coordinator. Replaying with the same disbursement transaction is a no-op
// returning the existing Active loan.
func (s *Service) Activate(ctx context.Context, loanID, disbursementTxID, actor string) (Loan, error) {
	if disbursementTxID == "" {
		return Loan{}, fmt.Errorf("disbursement transaction id is required")
	}

	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if loan.Status == StatusActive && loan.DisbursementTxID == disbursementTxID {
		return loan, nil
	}
	if loan.Status != StatusApproved {
		return loan, fmt.Errorf("%w: activate requires approved, loan is %s", ErrInvalidStateTransition, loan.Status)
	}

	now := time.Now().UTC()
	activated := loan
	activated.Status = StatusActive
	activated.DisbursementTxID = disbursementTxID
	activated.UpdatedAt = now
	transition := Transition{LoanID: loan.ID, From: StatusApproved, To: StatusActive, Actor: actor, At: now}

	err = s.repo.UpdateConditional(ctx, activated, StatusApproved, transition)
	if err == nil {
		return activated, nil
	}
	// A concurrent activation may have won the conditional write; a replay of
	// the same disbursement is still a success.
	current, getErr := s.repo.Get(ctx, loanID)
	if getErr == nil && current.Status == StatusActive && current.DisbursementTxID == disbursementTxID {
		return current, nil
	}
	return Loan{}, lostRace(err)
}

// Resolve closes an Active loan as Repaid or Defaulted. Invoked by the
// repayment scheduler. Resolving to the outcome the loan already reached is
// a no-op.
func (s *Service) Resolve(ctx context.Context, loanID string, outcome Status, actor string) (Loan, error) {
	if outcome != StatusRepaid && outcome != StatusDefaulted {
		return Loan{}, fmt.Errorf("%w: resolve outcome must be repaid or defaulted", ErrInvalidStateTransition)
	}

	loan, err := s.repo.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if loan.Status == outcome {
		return loan, nil
	}
	if loan.Status != StatusActive {
		return loan, fmt.Errorf("%w: resolve requires active, loan is %s", ErrInvalidStateTransition, loan.Status)
	}

	now := time.Now().UTC()
	resolved := loan
	resolved.Status = outcome
	resolved.UpdatedAt = now
	transition := Transition{LoanID: loan.ID, From: StatusActive, To: outcome, Actor: actor, At: now}
	if err := s.repo.UpdateConditional(ctx, resolved, StatusActive, transition); err != nil {
		return Loan{}, lostRace(err)
	}
	return resolved, nil
}

// lostRace translates the repository's conditional-write sentinel into the
// caller-facing transition error; ErrStatusConflict stays internal.
func lostRace(err error) error {
	if errors.Is(err, ErrStatusConflict) {
		return fmt.Errorf("%w: loan changed state concurrently", ErrInvalidStateTransition)
	}
	return err
}

// Get fetches one loan.
func (s *Service) Get(ctx context.Context, loanID string) (Loan, error) {
	return s.repo.Get(ctx, loanID)
}

// List returns loans matching the filter. Read-only admin view.
func (s *Service) List(ctx context.Context, filter Filter) ([]Loan, error) {
	return s.repo.List(ctx, filter)
}

// Transitions returns the audit trail for a loan.
func (s *Service) Transitions(ctx context.Context, loanID string) ([]Transition, error) {
	return s.repo.Transitions(ctx, loanID)
}

// Evaluate computes the borrower's current maximum approvable principal from
// fresh ledger history and outstanding active loans.
func (s *Service) Evaluate(ctx context.Context, borrowerID, accountID string) (int64, error) {
	account, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}

	asOf := time.Now().UTC()
	// Fetch the full history: the evaluator needs the last point before the
	// window start to establish the opening balance.
	history, err := s.ledger.History(ctx, accountID, time.Time{}, asOf)
	if err != nil {
		return 0, err
	}

	points := make([]eligibility.BalancePoint, 0, len(history))
	for _, tx := range history {
		points = append(points, eligibility.BalancePoint{Balance: tx.BalanceAfter, At: tx.CreatedAt})
	}

	outstanding, err := s.outstandingPrincipal(ctx, borrowerID)
	if err != nil {
		return 0, err
	}

	return eligibility.Evaluate(eligibility.Input{
		History:              points,
		CurrentBalance:       account.Balance,
		AsOf:                 asOf,
		OutstandingPrincipal: outstanding,
	}, s.policy), nil
}

func (s *Service) outstandingPrincipal(ctx context.Context, borrowerID string) (int64, error) {
	var total int64
	for _, status := range []Status{StatusApproved, StatusActive} {
		loans, err := s.repo.List(ctx, Filter{BorrowerID: borrowerID, Status: status})
		if err != nil {
			return 0, err
		}
		for _, l := range loans {
			if status == StatusActive && s.outstanding != nil {
				remaining, err := s.outstanding(ctx, l.ID)
				if err != nil {
					return 0, err
				}
				total += remaining
				continue
			}
			total += l.Principal
		}
	}
	return total, nil
}
