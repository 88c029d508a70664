package events

import (
	"context"
	"log/slog"
	"time"
)

const (
	// TypeLoanDisbursed is published when a disbursement saga commits.
	TypeLoanDisbursed = "loan.disbursed"
	// TypeLoanRepayment is published when a repayment saga commits.
	TypeLoanRepayment = "loan.repayment"
	// TypeSagaCompensated is published when a saga rolled back its ledger posting.
	TypeSagaCompensated = "saga.compensated"
	// TypeManualIntervention is published when both the forward and the
	// compensating posting failed; an operator must take over.
	TypeManualIntervention = "saga.manual_intervention"
	// TypeReconciliationDrift is published when the reconciliation pass finds
	// a persistent mismatch between ledger and loan-side totals.
	TypeReconciliationDrift = "reconciliation.drift"
)

// Event describes a lending lifecycle event.
type Event struct {
	Type        string    `json:"type"`
	OperationID string    `json:"operation_id,omitempty"`
	LoanID      string    `json:"loan_id,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger. Used in development
// and tests, where a broker is not available.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event",
		"type", event.Type,
		"operation_id", event.OperationID,
		"loan_id", event.LoanID,
		"account_id", event.AccountID,
		"amount", event.Amount,
		"detail", event.Detail,
	)
	return nil
}
