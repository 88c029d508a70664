package saga

import (
	"context"
	"time"

	"github.com/mosala-finance/mosala/internal/events"
	"github.com/mosala-finance/mosala/internal/ledger"
	"github.com/mosala-finance/mosala/internal/loan"
)

// Reconcile compares the ledger's disbursement and repayment sums against the
// loan-side disbursed principal and paid totals, per account. A mismatch is
// reported — drift event plus log — and never auto-corrected: after a
// compensation failure the books need operator judgment, not a second blind
// write.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	type accountTotals struct {
		disbursed int64
		paid      int64
	}
	expected := make(map[string]accountTotals)

	for _, status := range []loan.Status{loan.StatusActive, loan.StatusRepaid, loan.StatusDefaulted} {
		loans, err := c.loans.List(ctx, loan.Filter{Status: status})
		if err != nil {
			return err
		}
		for _, l := range loans {
			totals := expected[l.AccountID]
			if l.DisbursementTxID != "" {
				totals.disbursed += l.Principal
			}
			paid, err := c.schedules.PaidTotal(ctx, l.ID)
			if err != nil {
				return err
			}
			totals.paid += paid
			expected[l.AccountID] = totals
		}
	}

	for accountID, totals := range expected {
		disbursed, err := c.ledger.SumByKind(ctx, accountID, ledger.KindDisbursement)
		if err != nil {
			return err
		}
		repaid, err := c.ledger.SumByKind(ctx, accountID, ledger.KindRepayment)
		if err != nil {
			return err
		}

		// Repayment postings are debits; compensated ones net to zero.
		if disbursed != totals.disbursed || -repaid != totals.paid {
			detail := "ledger/loan totals diverged"
			if c.logger != nil {
				c.logger.Warn("reconciliation drift",
					"account_id", accountID,
					"ledger_disbursed", disbursed, "loan_disbursed", totals.disbursed,
					"ledger_repaid", -repaid, "loan_paid", totals.paid)
			}
			c.publish(ctx, events.Event{
				Type:      events.TypeReconciliationDrift,
				AccountID: accountID,
				Detail:    detail,
				At:        time.Now().UTC(),
			})
		}
	}
	return nil
}

// Run executes the reconciliation pass on the given interval until the
// context is cancelled. Started from main.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Reconcile(ctx); err != nil && c.logger != nil {
				c.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}
