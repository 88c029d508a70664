package saga

import (
	"context"
	"errors"
	"fmt"
)

// resume continues a saga from its recorded state. Terminal sagas return
// their recorded outcome; pending sagas re-run their steps with the same
// derived idempotency keys, so already-applied steps are no-ops.
func (c *Coordinator) resume(ctx context.Context, record Record) (Result, error) {
	switch record.Status {
	case StatusCommitted:
		result := Result{
			OperationID: record.OperationID,
			Status:      StatusCommitted,
			LedgerTxID:  record.LedgerTxID,
		}
		if l, err := c.loans.Get(ctx, record.LoanID); err == nil {
			result.LoanStatus = l.Status
		}
		return result, nil
	case StatusFailed:
		return Result{OperationID: record.OperationID, Status: StatusFailed},
			fmt.Errorf("operation %s failed: %s", record.OperationID, record.LastError)
	case StatusCompensated:
		return Result{
			OperationID: record.OperationID,
			Status:      StatusCompensated,
			LedgerTxID:  record.LedgerTxID,
		}, nil
	case StatusCompensating:
		return c.compensate(ctx, record, errors.New(record.LastError))
	case StatusPending:
		if record.Kind == KindRepayment {
			return c.runRepayment(ctx, record)
		}
		return c.runDisbursement(ctx, record)
	default:
		return Result{}, fmt.Errorf("operation %s in unknown state %q", record.OperationID, record.Status)
	}
}

// Recover resumes every saga left pending or compensating. Run at startup,
// before the server accepts traffic, so a crash mid-saga never strands money.
func (c *Coordinator) Recover(ctx context.Context) error {
	unresolved, err := c.repo.ListUnresolved(ctx)
	if err != nil {
		return err
	}
	for _, record := range unresolved {
		if c.logger != nil {
			c.logger.Info("resuming saga",
				"operation_id", record.OperationID, "kind", record.Kind, "status", record.Status)
		}
		if _, err := c.resume(ctx, record); err != nil {
			// Compensation failures stay queued for the next sweep; anything
			// else already moved the saga to a terminal state.
			if errors.Is(err, ErrSagaCompensationFailed) {
				continue
			}
			if c.logger != nil {
				c.logger.Warn("saga resumed to a non-committed outcome",
					"operation_id", record.OperationID, "error", err)
			}
		}
	}
	return nil
}
