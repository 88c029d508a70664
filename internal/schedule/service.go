package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mosala-finance/mosala/internal/loan"
)

const sweepActor = "scheduler"

// LoanSource is the slice of the loan state machine the scheduler drives:
// listing active loans for the sweep and resolving loans to Repaid/Defaulted.
type LoanSource interface {
	List(ctx context.Context, filter loan.Filter) ([]loan.Loan, error)
	Resolve(ctx context.Context, loanID string, outcome loan.Status, actor string) (loan.Loan, error)
}

// Service generates amortization schedules and tracks repayment.
type Service struct {
	repo      Repository
	loans     LoanSource
	threshold int
	logger    *slog.Logger

	mapMu sync.Mutex
	muMap map[string]*sync.Mutex
}

// NewService builds a scheduler. threshold is the number of simultaneously
// overdue installments that defaults a loan.
func NewService(repo Repository, loans LoanSource, threshold int, logger *slog.Logger) *Service {
	if threshold < 1 {
		threshold = 1
	}
	return &Service{
		repo:      repo,
		loans:     loans,
		threshold: threshold,
		logger:    logger,
		muMap:     make(map[string]*sync.Mutex),
	}
}

// loanLock serializes schedule mutations per loan identifier.
func (s *Service) loanLock(loanID string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if _, exists := s.muMap[loanID]; !exists {
		s.muMap[loanID] = &sync.Mutex{}
	}
	return s.muMap[loanID]
}

// Generate produces the loan's amortization schedule exactly once. A repeated
// call returns the existing schedule unchanged, so disbursement retries are
// harmless.
func (s *Service) Generate(ctx context.Context, l loan.Loan, start time.Time) ([]Installment, error) {
	installments := Amortize(l.ID, l.Principal, l.RateBps, l.TermMonths, start)
	if len(installments) == 0 {
		return nil, fmt.Errorf("loan %s has nothing to schedule", l.ID)
	}

	err := s.repo.CreateSchedule(ctx, l.ID, installments)
	if errors.Is(err, ErrScheduleExists) {
		return s.repo.GetSchedule(ctx, l.ID)
	}
	if err != nil {
		return nil, err
	}
	return installments, nil
}

// Schedule returns the loan's installments in sequence order.
func (s *Service) Schedule(ctx context.Context, loanID string) ([]Installment, error) {
	return s.repo.GetSchedule(ctx, loanID)
}

// Outstanding returns the total remaining amount due across the loan's
// installments.
func (s *Service) Outstanding(ctx context.Context, loanID string) (int64, error) {
	installments, err := s.repo.GetSchedule(ctx, loanID)
	if err != nil {
		return 0, err
	}
	var remaining int64
	for _, installment := range installments {
		if installment.Status == InstallmentDefaulted {
			continue
		}
		remaining += installment.Outstanding()
	}
	return remaining, nil
}

// PaidTotal returns the total amount applied across the loan's installments.
// Used by the reconciliation sweep.
func (s *Service) PaidTotal(ctx context.Context, loanID string) (int64, error) {
	return s.repo.PaidTotal(ctx, loanID)
}

// ApplyPayment applies a repayment FIFO across unpaid installments, carrying
// any remainder forward. A payment exceeding the total outstanding fails with
// ErrOverpaymentNotAllowed; excess is refunded through the ledger, never
// silently credited here. Replaying an idempotency key returns the original
// receipt. Full payoff resolves the loan to Repaid.
func (s *Service) ApplyPayment(ctx context.Context, loanID string, amount int64, key string) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, fmt.Errorf("payment amount must be positive")
	}
	if key == "" {
		key = uuid.NewString()
	}

	lock := s.loanLock(loanID)
	lock.Lock()
	defer lock.Unlock()

	if prior, err := s.repo.FindPaymentByKey(ctx, key); err == nil {
		return Receipt{
			PaymentID:   prior.ID,
			LoanID:      prior.LoanID,
			Amount:      prior.Amount,
			Outstanding: prior.OutstandingAfter,
			LoanSettled: prior.Settled,
			Replayed:    true,
		}, nil
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return Receipt{}, err
	}

	installments, err := s.repo.GetSchedule(ctx, loanID)
	if err != nil {
		return Receipt{}, err
	}

	var outstanding int64
	for _, installment := range installments {
		outstanding += installment.Outstanding()
	}
	if amount > outstanding {
		return Receipt{}, fmt.Errorf("%w: outstanding %d, payment %d", ErrOverpaymentNotAllowed, outstanding, amount)
	}

	now := time.Now().UTC()
	remaining := amount
	var touched []Installment
	for i := range installments {
		if remaining == 0 {
			break
		}
		installment := &installments[i]
		due := installment.Outstanding()
		if due == 0 {
			continue
		}
		applied := due
		if remaining < due {
			applied = remaining
		}
		installment.AmountPaid += applied
		remaining -= applied
		if installment.AmountPaid >= installment.AmountDue {
			installment.Status = InstallmentPaid
			installment.PaidAt = now
		}
		touched = append(touched, *installment)
	}

	payment := Payment{
		ID:               uuid.NewString(),
		LoanID:           loanID,
		Amount:           amount,
		IdempotencyKey:   key,
		OutstandingAfter: outstanding - amount,
		Settled:          outstanding == amount,
		CreatedAt:        now,
	}
	if err := s.repo.UpdateInstallments(ctx, loanID, touched, &payment); err != nil {
		return Receipt{}, err
	}

	if payment.Settled {
		if _, err := s.loans.Resolve(ctx, loanID, loan.StatusRepaid, sweepActor); err != nil {
			return Receipt{}, fmt.Errorf("resolve repaid loan %s: %w", loanID, err)
		}
	}

	return Receipt{
		PaymentID:   payment.ID,
		LoanID:      loanID,
		Amount:      amount,
		Outstanding: payment.OutstandingAfter,
		LoanSettled: payment.Settled,
	}, nil
}

// Sweep marks past-due installments overdue across all active loans and
// defaults any loan whose simultaneously overdue count reaches the threshold.
func (s *Service) Sweep(ctx context.Context, now time.Time) error {
	active, err := s.loans.List(ctx, loan.Filter{Status: loan.StatusActive})
	if err != nil {
		return err
	}
	for _, l := range active {
		if err := s.sweepLoan(ctx, l.ID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) sweepLoan(ctx context.Context, loanID string, now time.Time) error {
	lock := s.loanLock(loanID)
	lock.Lock()
	defer lock.Unlock()

	installments, err := s.repo.GetSchedule(ctx, loanID)
	if err != nil {
		return err
	}

	var touched []Installment
	overdue := 0
	for i := range installments {
		installment := &installments[i]
		switch installment.Status {
		case InstallmentOverdue:
			overdue++
		case InstallmentPending:
			if installment.DueDate.Before(now) && installment.AmountPaid < installment.AmountDue {
				installment.Status = InstallmentOverdue
				overdue++
				touched = append(touched, *installment)
			}
		}
	}

	if overdue >= s.threshold {
		// Default the loan and freeze what remains unpaid.
		touched = touched[:0]
		for i := range installments {
			installment := &installments[i]
			if installment.Status == InstallmentOverdue || installment.Status == InstallmentPending {
				installment.Status = InstallmentDefaulted
				touched = append(touched, *installment)
			}
		}
		if err := s.repo.UpdateInstallments(ctx, loanID, touched, nil); err != nil {
			return err
		}
		if _, err := s.loans.Resolve(ctx, loanID, loan.StatusDefaulted, sweepActor); err != nil {
			return fmt.Errorf("resolve defaulted loan %s: %w", loanID, err)
		}
		if s.logger != nil {
			s.logger.Warn("loan defaulted by sweep", "loan_id", loanID, "overdue", overdue)
		}
		return nil
	}

	if len(touched) > 0 {
		return s.repo.UpdateInstallments(ctx, loanID, touched, nil)
	}
	return nil
}

// Run executes the sweep on the given interval until the context is
// cancelled. Started from main.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.Sweep(ctx, now.UTC()); err != nil && s.logger != nil {
				s.logger.Error("overdue sweep failed", "error", err)
			}
		}
	}
}
