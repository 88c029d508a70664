package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mosala-finance/mosala/internal/events"
	"github.com/mosala-finance/mosala/internal/ledger"
	"github.com/mosala-finance/mosala/internal/loan"
	"github.com/mosala-finance/mosala/internal/schedule"
)

const coordinatorActor = "coordinator"

// Ledger is the slice of the ledger the coordinator drives.
type Ledger interface {
	PostSystem(ctx context.Context, accountID string, amount int64, kind ledger.Kind, key string) (ledger.Posting, error)
	SumByKind(ctx context.Context, accountID string, kind ledger.Kind) (int64, error)
}

// Loans is the slice of the loan state machine the coordinator drives.
type Loans interface {
	Get(ctx context.Context, loanID string) (loan.Loan, error)
	Activate(ctx context.Context, loanID, disbursementTxID, actor string) (loan.Loan, error)
	List(ctx context.Context, filter loan.Filter) ([]loan.Loan, error)
}

// Schedules is the slice of the repayment scheduler the coordinator drives.
type Schedules interface {
	Generate(ctx context.Context, l loan.Loan, start time.Time) ([]schedule.Installment, error)
	ApplyPayment(ctx context.Context, loanID string, amount int64, key string) (schedule.Receipt, error)
	PaidTotal(ctx context.Context, loanID string) (int64, error)
}

// Result is the caller-facing outcome of a saga.
type Result struct {
	OperationID string
	Status      Status
	LedgerTxID  string
	LoanStatus  loan.Status
}

// Coordinator executes the two cross-store operations — disbursement and
// repayment — as sagas: a durable record, a ledger posting, a loan-side step,
// and a compensating posting when the loan-side step fails. Every step is
// idempotent under its derived key, so at-least-once delivery and crash
// recovery replay harmlessly.
type Coordinator struct {
	repo        Repository
	ledger      Ledger
	loans       Loans
	schedules   Schedules
	publisher   events.Publisher
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewCoordinator builds a consistency coordinator.
func NewCoordinator(repo Repository, ledgerSvc Ledger, loans Loans, schedules Schedules, publisher events.Publisher, stepTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	return &Coordinator{
		repo:        repo,
		ledger:      ledgerSvc,
		loans:       loans,
		schedules:   schedules,
		publisher:   publisher,
		stepTimeout: stepTimeout,
		logger:      logger,
	}
}

// forwardKey derives the ledger idempotency key for a saga's forward posting.
func forwardKey(operationID string) string { return operationID + ":fwd" }

// compensationKey derives the key for the compensating posting.
func compensationKey(operationID string) string { return operationID + ":comp" }

// paymentKey derives the key for the scheduler-side payment application.
func paymentKey(operationID string) string { return operationID + ":pay" }

// Disburse executes the disbursement saga for an approved loan: credit the
// borrower's account, then activate the loan and generate its schedule.
// Replaying an operation id resumes or returns the recorded outcome.
func (c *Coordinator) Disburse(ctx context.Context, loanID, operationID string) (Result, error) {
	if operationID == "" {
		operationID = uuid.NewString()
	}

	if existing, err := c.repo.Get(ctx, operationID); err == nil {
		return c.resume(ctx, existing)
	} else if !errors.Is(err, ErrSagaNotFound) {
		return Result{}, err
	}

	l, err := c.loans.Get(ctx, loanID)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	record := Record{
		OperationID: operationID,
		Kind:        KindDisbursement,
		LoanID:      l.ID,
		AccountID:   l.AccountID,
		Amount:      l.Principal,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.repo.Create(ctx, record); err != nil {
		return Result{}, err
	}
	return c.runDisbursement(ctx, record)
}

// Repay executes the repayment saga for an active loan: debit the borrower's
// account, then apply the payment to the schedule.
func (c *Coordinator) Repay(ctx context.Context, loanID string, amount int64, operationID string) (Result, error) {
	if amount <= 0 {
		return Result{}, ledger.ErrAmountNotPositive
	}
	if operationID == "" {
		operationID = uuid.NewString()
	}

	if existing, err := c.repo.Get(ctx, operationID); err == nil {
		return c.resume(ctx, existing)
	} else if !errors.Is(err, ErrSagaNotFound) {
		return Result{}, err
	}

	l, err := c.loans.Get(ctx, loanID)
	if err != nil {
		return Result{}, err
	}
	if l.Status != loan.StatusActive {
		return Result{}, fmt.Errorf("%w: repayment requires active, loan is %s", loan.ErrInvalidStateTransition, l.Status)
	}

	now := time.Now().UTC()
	record := Record{
		OperationID: operationID,
		Kind:        KindRepayment,
		LoanID:      l.ID,
		AccountID:   l.AccountID,
		Amount:      amount,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.repo.Create(ctx, record); err != nil {
		return Result{}, err
	}
	return c.runRepayment(ctx, record)
}

// Status returns the recorded outcome of an operation. Read-only admin view.
func (c *Coordinator) Status(ctx context.Context, operationID string) (Record, error) {
	return c.repo.Get(ctx, operationID)
}

func (c *Coordinator) runDisbursement(ctx context.Context, record Record) (Result, error) {
	posting, err := c.postStep(ctx, record.AccountID, record.Amount, ledger.KindDisbursement, forwardKey(record.OperationID))
	if err != nil {
		return c.fail(ctx, record, err)
	}
	record.LedgerTxID = posting.TransactionID
	record = c.touch(ctx, record, StatusPending)

	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	l, err := c.loans.Activate(stepCtx, record.LoanID, posting.TransactionID, coordinatorActor)
	if err != nil {
		return c.compensate(ctx, record, err)
	}
	if _, err := c.schedules.Generate(stepCtx, l, time.Now().UTC()); err != nil {
		return c.compensate(ctx, record, err)
	}

	record = c.touch(ctx, record, StatusCommitted)
	c.publish(ctx, events.Event{
		Type:        events.TypeLoanDisbursed,
		OperationID: record.OperationID,
		LoanID:      record.LoanID,
		AccountID:   record.AccountID,
		Amount:      record.Amount,
		At:          time.Now().UTC(),
	})
	return Result{
		OperationID: record.OperationID,
		Status:      StatusCommitted,
		LedgerTxID:  record.LedgerTxID,
		LoanStatus:  l.Status,
	}, nil
}

func (c *Coordinator) runRepayment(ctx context.Context, record Record) (Result, error) {
	posting, err := c.postStep(ctx, record.AccountID, -record.Amount, ledger.KindRepayment, forwardKey(record.OperationID))
	if err != nil {
		return c.fail(ctx, record, err)
	}
	record.LedgerTxID = posting.TransactionID
	record = c.touch(ctx, record, StatusPending)

	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	receipt, err := c.schedules.ApplyPayment(stepCtx, record.LoanID, record.Amount, paymentKey(record.OperationID))
	if err != nil {
		return c.compensate(ctx, record, err)
	}

	record = c.touch(ctx, record, StatusCommitted)
	c.publish(ctx, events.Event{
		Type:        events.TypeLoanRepayment,
		OperationID: record.OperationID,
		LoanID:      record.LoanID,
		AccountID:   record.AccountID,
		Amount:      record.Amount,
		At:          time.Now().UTC(),
	})

	loanStatus := loan.StatusActive
	if receipt.LoanSettled {
		loanStatus = loan.StatusRepaid
	}
	return Result{
		OperationID: record.OperationID,
		Status:      StatusCommitted,
		LedgerTxID:  record.LedgerTxID,
		LoanStatus:  loanStatus,
	}, nil
}

// postStep runs a ledger posting under the per-step timeout.
func (c *Coordinator) postStep(ctx context.Context, accountID string, amount int64, kind ledger.Kind, key string) (ledger.Posting, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()
	return c.ledger.PostSystem(stepCtx, accountID, amount, kind, key)
}

// fail marks a saga failed after its forward posting never applied. Nothing
// to unwind.
func (c *Coordinator) fail(ctx context.Context, record Record, cause error) (Result, error) {
	record.LastError = cause.Error()
	record = c.touch(ctx, record, StatusFailed)
	if c.logger != nil {
		c.logger.Warn("saga failed before ledger posting",
			"operation_id", record.OperationID, "kind", record.Kind, "error", cause)
	}
	return Result{OperationID: record.OperationID, Status: StatusFailed}, cause
}

// compensate reverses the committed ledger posting after the loan-side step
// failed. A failed compensation leaves the saga compensating for the recovery
// sweep and raises the manual-intervention event.
func (c *Coordinator) compensate(ctx context.Context, record Record, cause error) (Result, error) {
	record.LastError = cause.Error()
	record = c.touch(ctx, record, StatusCompensating)

	reversal := -record.Amount
	if record.Kind == KindRepayment {
		reversal = record.Amount
	}
	kind := ledger.KindDisbursement
	if record.Kind == KindRepayment {
		kind = ledger.KindRepayment
	}

	posting, err := c.postStep(ctx, record.AccountID, reversal, kind, compensationKey(record.OperationID))
	if err != nil {
		record.RetryCount++
		record = c.touch(ctx, record, StatusCompensating)
		c.publish(ctx, events.Event{
			Type:        events.TypeManualIntervention,
			OperationID: record.OperationID,
			LoanID:      record.LoanID,
			AccountID:   record.AccountID,
			Amount:      record.Amount,
			Detail:      fmt.Sprintf("forward: %v; compensation: %v", cause, err),
			At:          time.Now().UTC(),
		})
		if c.logger != nil {
			c.logger.Error("saga compensation failed",
				"operation_id", record.OperationID, "forward_error", cause, "compensation_error", err)
		}
		return Result{OperationID: record.OperationID, Status: StatusCompensating},
			fmt.Errorf("%w: %v", ErrSagaCompensationFailed, err)
	}

	record.CompensationTxID = posting.TransactionID
	record = c.touch(ctx, record, StatusCompensated)
	c.publish(ctx, events.Event{
		Type:        events.TypeSagaCompensated,
		OperationID: record.OperationID,
		LoanID:      record.LoanID,
		AccountID:   record.AccountID,
		Amount:      record.Amount,
		Detail:      cause.Error(),
		At:          time.Now().UTC(),
	})
	return Result{
		OperationID: record.OperationID,
		Status:      StatusCompensated,
		LedgerTxID:  record.LedgerTxID,
	}, cause
}

func (c *Coordinator) touch(ctx context.Context, record Record, status Status) Record {
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	if err := c.repo.Update(ctx, record); err != nil && c.logger != nil {
		c.logger.Error("persist saga state", "operation_id", record.OperationID, "error", err)
	}
	return record
}

func (c *Coordinator) publish(ctx context.Context, event events.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, event); err != nil && c.logger != nil {
		c.logger.Warn("publish event", "type", event.Type, "error", err)
	}
}
