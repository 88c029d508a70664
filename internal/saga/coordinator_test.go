package saga

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mosala-finance/mosala/internal/eligibility"
	"github.com/mosala-finance/mosala/internal/events"
	"github.com/mosala-finance/mosala/internal/ledger"
	"github.com/mosala-finance/mosala/internal/loan"
	"github.com/mosala-finance/mosala/internal/schedule"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fixture struct {
	ledgerSvc   *ledger.Service
	loanSvc     *loan.Service
	scheduleSvc *schedule.Service
	publisher   *recordingPublisher
	repo        Repository
	account     ledger.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewInMemoryStore()
	ledgerSvc := ledger.NewService(store, 5)
	account := ledger.SeedAccount(store, uuid.NewString(), 1_000)

	policy := eligibility.Policy{Multiplier: 3, TrailingWindow: 30 * 24 * time.Hour}
	loanSvc := loan.NewService(loan.NewMemoryRepository(), ledgerSvc, policy)
	scheduleSvc := schedule.NewService(schedule.NewMemoryRepository(), loanSvc, 4, nil)
	loanSvc.SetOutstandingProvider(scheduleSvc.Outstanding)

	return &fixture{
		ledgerSvc:   ledgerSvc,
		loanSvc:     loanSvc,
		scheduleSvc: scheduleSvc,
		publisher:   &recordingPublisher{},
		repo:        NewMemoryRepository(),
		account:     account,
	}
}

func (f *fixture) coordinator(loans Loans, ledgerSvc Ledger) *Coordinator {
	if loans == nil {
		loans = f.loanSvc
	}
	if ledgerSvc == nil {
		ledgerSvc = f.ledgerSvc
	}
	return NewCoordinator(f.repo, ledgerSvc, loans, f.scheduleSvc, f.publisher, time.Second, nil)
}

func (f *fixture) approvedLoan(t *testing.T, principal int64) loan.Loan {
	t.Helper()
	ctx := context.Background()
	applied, err := f.loanSvc.Apply(ctx, loan.ApplyInput{
		BorrowerID: f.account.OwnerID,
		AccountID:  f.account.ID,
		Principal:  principal,
		RateBps:    0,
		TermMonths: 12,
		Actor:      f.account.OwnerID,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	approved, err := f.loanSvc.Approve(ctx, applied.ID, "officer-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return approved
}

// failingLoans fails Activate a configurable number of times.
type failingLoans struct {
	Loans
	mu        sync.Mutex
	remaining int
}

func (f *failingLoans) Activate(ctx context.Context, loanID, txID, actor string) (loan.Loan, error) {
	f.mu.Lock()
	fail := f.remaining > 0
	if fail {
		f.remaining--
	}
	f.mu.Unlock()
	if fail {
		return loan.Loan{}, errors.New("loan engine unavailable")
	}
	return f.Loans.Activate(ctx, loanID, txID, actor)
}

// brokenCompensationLedger fails postings with a compensation-derived key.
type brokenCompensationLedger struct {
	Ledger
}

func (b brokenCompensationLedger) PostSystem(ctx context.Context, accountID string, amount int64, kind ledger.Kind, key string) (ledger.Posting, error) {
	if strings.HasSuffix(key, ":comp") {
		return ledger.Posting{}, errors.New("ledger unavailable")
	}
	return b.Ledger.PostSystem(ctx, accountID, amount, kind, key)
}

func TestDisbursementCommits(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)

	result, err := c.Disburse(ctx, l.ID, uuid.NewString())
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if result.Status != StatusCommitted || result.LoanStatus != loan.StatusActive {
		t.Fatalf("unexpected result: %+v", result)
	}

	balance, _ := f.ledgerSvc.Balance(ctx, f.account.ID)
	if balance != 3_400 {
		t.Fatalf("expected balance 3400 after disbursement, got %d", balance)
	}
	if _, err := f.scheduleSvc.Schedule(ctx, l.ID); err != nil {
		t.Fatalf("schedule missing after disbursement: %v", err)
	}
	if got := f.publisher.ofType(events.TypeLoanDisbursed); len(got) != 1 {
		t.Fatalf("expected one disbursed event, got %d", len(got))
	}
}

func TestDisbursementReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)

	operationID := uuid.NewString()
	first, err := c.Disburse(ctx, l.ID, operationID)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}

	replay, err := c.Disburse(ctx, l.ID, operationID)
	if err != nil {
		t.Fatalf("replayed disburse: %v", err)
	}
	if replay.Status != StatusCommitted || replay.LedgerTxID != first.LedgerTxID {
		t.Fatalf("replay diverged: %+v vs %+v", replay, first)
	}

	balance, _ := f.ledgerSvc.Balance(ctx, f.account.ID)
	if balance != 3_400 {
		t.Fatalf("replay moved money: balance %d", balance)
	}
}

func TestDisbursementCompensatesOnActivationFailure(t *testing.T) {
	f := newFixture(t)
	broken := &failingLoans{Loans: f.loanSvc, remaining: 100}
	c := f.coordinator(broken, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)

	operationID := uuid.NewString()
	result, err := c.Disburse(ctx, l.ID, operationID)
	if err == nil {
		t.Fatalf("expected activation failure to surface")
	}
	if result.Status != StatusCompensated {
		t.Fatalf("expected compensated saga, got %s", result.Status)
	}

	// Ledger credit reversed: no net balance change.
	balance, _ := f.ledgerSvc.Balance(ctx, f.account.ID)
	if balance != 1_000 {
		t.Fatalf("expected balance restored to 1000, got %d", balance)
	}

	// Loan untouched.
	current, _ := f.loanSvc.Get(ctx, l.ID)
	if current.Status != loan.StatusApproved {
		t.Fatalf("expected loan still approved, got %s", current.Status)
	}

	record, err := c.Status(ctx, operationID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if record.Status != StatusCompensated || record.CompensationTxID == "" {
		t.Fatalf("unexpected saga record: %+v", record)
	}
	if got := f.publisher.ofType(events.TypeSagaCompensated); len(got) != 1 {
		t.Fatalf("expected one compensated event, got %d", len(got))
	}
}

func TestCompensationDoubleFailureRoutedToManualIntervention(t *testing.T) {
	f := newFixture(t)
	broken := &failingLoans{Loans: f.loanSvc, remaining: 100}
	c := f.coordinator(broken, brokenCompensationLedger{Ledger: f.ledgerSvc})
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)

	_, err := c.Disburse(ctx, l.ID, uuid.NewString())
	if !errors.Is(err, ErrSagaCompensationFailed) {
		t.Fatalf("expected ErrSagaCompensationFailed, got %v", err)
	}
	if got := f.publisher.ofType(events.TypeManualIntervention); len(got) != 1 {
		t.Fatalf("expected manual-intervention event, got %d", len(got))
	}
}

func TestRecoveryResumesPendingSaga(t *testing.T) {
	f := newFixture(t)
	// Activation fails once — the in-flight attempt — then the process
	// "crashes" before compensation; recovery retries with the same keys.
	broken := &failingLoans{Loans: f.loanSvc, remaining: 0}
	c := f.coordinator(broken, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)

	operationID := uuid.NewString()
	now := time.Now().UTC()
	record := Record{
		OperationID: operationID,
		Kind:        KindDisbursement,
		LoanID:      l.ID,
		AccountID:   f.account.ID,
		Amount:      l.Principal,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.repo.Create(ctx, record); err != nil {
		t.Fatalf("create saga: %v", err)
	}

	// Simulate the forward posting having applied before the crash.
	if _, err := f.ledgerSvc.PostSystem(ctx, f.account.ID, l.Principal, ledger.KindDisbursement, forwardKey(operationID)); err != nil {
		t.Fatalf("forward posting: %v", err)
	}

	if err := c.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	resumed, err := c.Status(ctx, operationID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resumed.Status != StatusCommitted {
		t.Fatalf("expected committed after recovery, got %s", resumed.Status)
	}

	// The replayed forward posting must not double-credit.
	balance, _ := f.ledgerSvc.Balance(ctx, f.account.ID)
	if balance != 3_400 {
		t.Fatalf("expected balance 3400, got %d", balance)
	}
	current, _ := f.loanSvc.Get(ctx, l.ID)
	if current.Status != loan.StatusActive {
		t.Fatalf("expected active loan after recovery, got %s", current.Status)
	}
}

func TestRepaymentSagaDebitsAndApplies(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)
	if _, err := c.Disburse(ctx, l.ID, uuid.NewString()); err != nil {
		t.Fatalf("disburse: %v", err)
	}

	result, err := c.Repay(ctx, l.ID, 200, uuid.NewString())
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if result.Status != StatusCommitted || result.LoanStatus != loan.StatusActive {
		t.Fatalf("unexpected result: %+v", result)
	}

	balance, _ := f.ledgerSvc.Balance(ctx, f.account.ID)
	if balance != 3_200 {
		t.Fatalf("expected balance 3200 after repayment, got %d", balance)
	}
	outstanding, _ := f.scheduleSvc.Outstanding(ctx, l.ID)
	if outstanding != 2_200 {
		t.Fatalf("expected outstanding 2200, got %d", outstanding)
	}
}

func TestRepaymentOverpaymentCompensates(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)
	if _, err := c.Disburse(ctx, l.ID, uuid.NewString()); err != nil {
		t.Fatalf("disburse: %v", err)
	}

	result, err := c.Repay(ctx, l.ID, 3_000, uuid.NewString())
	if !errors.Is(err, schedule.ErrOverpaymentNotAllowed) {
		t.Fatalf("expected ErrOverpaymentNotAllowed, got %v", err)
	}
	if result.Status != StatusCompensated {
		t.Fatalf("expected compensated saga, got %s", result.Status)
	}

	// Debit reversed: balance unchanged by the rejected payment.
	balance, _ := f.ledgerSvc.Balance(ctx, f.account.ID)
	if balance != 3_400 {
		t.Fatalf("expected balance 3400, got %d", balance)
	}
	outstanding, _ := f.scheduleSvc.Outstanding(ctx, l.ID)
	if outstanding != 2_400 {
		t.Fatalf("expected outstanding 2400, got %d", outstanding)
	}
}

func TestFullRepaymentResolvesLoan(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)
	if _, err := c.Disburse(ctx, l.ID, uuid.NewString()); err != nil {
		t.Fatalf("disburse: %v", err)
	}

	result, err := c.Repay(ctx, l.ID, 2_400, uuid.NewString())
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if result.LoanStatus != loan.StatusRepaid {
		t.Fatalf("expected repaid loan, got %s", result.LoanStatus)
	}
	current, _ := f.loanSvc.Get(ctx, l.ID)
	if current.Status != loan.StatusRepaid {
		t.Fatalf("expected repaid loan, got %s", current.Status)
	}
}

func TestReconcileFlagsDrift(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil, nil)
	ctx := context.Background()
	l := f.approvedLoan(t, 2_400)
	if _, err := c.Disburse(ctx, l.ID, uuid.NewString()); err != nil {
		t.Fatalf("disburse: %v", err)
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := f.publisher.ofType(events.TypeReconciliationDrift); len(got) != 0 {
		t.Fatalf("unexpected drift on consistent books: %+v", got)
	}

	// Introduce drift: a disbursement posting with no loan-side counterpart.
	if _, err := f.ledgerSvc.PostSystem(ctx, f.account.ID, 500, ledger.KindDisbursement, uuid.NewString()); err != nil {
		t.Fatalf("drift posting: %v", err)
	}
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := f.publisher.ofType(events.TypeReconciliationDrift); len(got) != 1 {
		t.Fatalf("expected one drift event, got %d", len(got))
	}
}
