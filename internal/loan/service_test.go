package loan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mosala-finance/mosala/internal/eligibility"
	"github.com/mosala-finance/mosala/internal/ledger"
)

var testPolicy = eligibility.Policy{Multiplier: 3, TrailingWindow: 30 * 24 * time.Hour}

func newTestService(t *testing.T, balance int64) (*Service, ledger.Account) {
	t.Helper()
	store := ledger.NewInMemoryStore()
	ledgerSvc := ledger.NewService(store, 5)
	account := ledger.SeedAccount(store, uuid.NewString(), balance)
	svc := NewService(NewMemoryRepository(), ledgerSvc, testPolicy)
	return svc, account
}

func apply(t *testing.T, svc *Service, account ledger.Account, principal int64) Loan {
	t.Helper()
	loan, err := svc.Apply(context.Background(), ApplyInput{
		BorrowerID: account.OwnerID,
		AccountID:  account.ID,
		Principal:  principal,
		RateBps:    1_200,
		TermMonths: 12,
		Actor:      account.OwnerID,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return loan
}

func TestApplyRejectsIneligiblePrincipal(t *testing.T) {
	svc, account := newTestService(t, 1_000)
	ctx := context.Background()

	max, err := svc.Evaluate(ctx, account.OwnerID, account.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if max != 3_000 {
		t.Fatalf("expected max principal 3000, got %d", max)
	}

	_, err = svc.Apply(ctx, ApplyInput{
		BorrowerID: account.OwnerID,
		AccountID:  account.ID,
		Principal:  4_000,
		RateBps:    1_200,
		TermMonths: 12,
	})
	if !errors.Is(err, ErrIneligiblePrincipal) {
		t.Fatalf("expected ErrIneligiblePrincipal, got %v", err)
	}

	if loan := apply(t, svc, account, 3_000); loan.Status != StatusPending {
		t.Fatalf("expected pending loan, got %s", loan.Status)
	}
}

func TestApproveSnapshotsEligibility(t *testing.T) {
	svc, account := newTestService(t, 1_000)
	loan := apply(t, svc, account, 2_000)

	approved, err := svc.Approve(context.Background(), loan.ID, "officer-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.EligibilityAtApproval != 3_000 {
		t.Fatalf("expected snapshot 3000, got %d", approved.EligibilityAtApproval)
	}

	transitions, err := svc.Transitions(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	last := transitions[len(transitions)-1]
	if last.To != StatusApproved || last.Actor != "officer-1" {
		t.Fatalf("unexpected audit row: %+v", last)
	}
}

func TestApproveRevokesStaleEligibility(t *testing.T) {
	svc, account := newTestService(t, 1_000)
	ctx := context.Background()

	first := apply(t, svc, account, 2_000)
	second := apply(t, svc, account, 2_000)

	if _, err := svc.Approve(ctx, first.ID, "officer-1"); err != nil {
		t.Fatalf("approve first: %v", err)
	}

	// The first approval consumed 2000 of the 3000 limit; the figure shown at
	// application time for the second loan must not be trusted.
	rejected, err := svc.Approve(ctx, second.ID, "officer-1")
	if !errors.Is(err, ErrEligibilityRevoked) {
		t.Fatalf("expected ErrEligibilityRevoked, got %v", err)
	}
	if rejected.Status != StatusRejected || rejected.Reason != RejectionEligibilityRevoked {
		t.Fatalf("expected auto-rejected loan, got %+v", rejected)
	}
}

func TestActivateIdempotentReplay(t *testing.T) {
	svc, account := newTestService(t, 1_000)
	ctx := context.Background()
	loan := apply(t, svc, account, 2_000)
	if _, err := svc.Approve(ctx, loan.ID, "officer-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	txID := uuid.NewString()
	active, err := svc.Activate(ctx, loan.ID, txID, "coordinator")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != StatusActive || active.DisbursementTxID != txID {
		t.Fatalf("unexpected active loan: %+v", active)
	}

	replay, err := svc.Activate(ctx, loan.ID, txID, "coordinator")
	if err != nil {
		t.Fatalf("replayed activate: %v", err)
	}
	if replay.Status != StatusActive || replay.UpdatedAt != active.UpdatedAt {
		t.Fatalf("replay was not a no-op: %+v", replay)
	}

	// A different disbursement must not re-activate.
	if _, err := svc.Activate(ctx, loan.ID, uuid.NewString(), "coordinator"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestActivateRequiresApproved(t *testing.T) {
	svc, account := newTestService(t, 1_000)
	loan := apply(t, svc, account, 2_000)

	if _, err := svc.Activate(context.Background(), loan.ID, uuid.NewString(), "coordinator"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestResolveOutcomes(t *testing.T) {
	svc, account := newTestService(t, 1_000)
	ctx := context.Background()
	loan := apply(t, svc, account, 2_000)
	if _, err := svc.Approve(ctx, loan.ID, "officer-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Activate(ctx, loan.ID, uuid.NewString(), "coordinator"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	resolved, err := svc.Resolve(ctx, loan.ID, StatusRepaid, "scheduler")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusRepaid {
		t.Fatalf("expected repaid, got %s", resolved.Status)
	}

	// Terminal states accept a repeated resolve to the same outcome and
	// nothing else.
	if _, err := svc.Resolve(ctx, loan.ID, StatusRepaid, "scheduler"); err != nil {
		t.Fatalf("repeated resolve: %v", err)
	}
	if _, err := svc.Resolve(ctx, loan.ID, StatusDefaulted, "scheduler"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestOutstandingProviderNarrowsEligibility(t *testing.T) {
	svc, account := newTestService(t, 1_000)
	ctx := context.Background()
	loan := apply(t, svc, account, 2_000)
	if _, err := svc.Approve(ctx, loan.ID, "officer-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Activate(ctx, loan.ID, uuid.NewString(), "coordinator"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// With half the loan repaid, the outstanding provider restores headroom.
	svc.SetOutstandingProvider(func(context.Context, string) (int64, error) {
		return 1_000, nil
	})

	max, err := svc.Evaluate(ctx, account.OwnerID, account.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if max != 2_000 {
		t.Fatalf("expected max 2000 with 1000 outstanding, got %d", max)
	}
}
