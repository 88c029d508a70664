package saga

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/mosala-finance/mosala/internal/ledger"
	"github.com/mosala-finance/mosala/internal/loan"
	"github.com/mosala-finance/mosala/internal/schedule"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes the coordinator's HTTP endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler builds a coordinator HTTP handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type repayRequest struct {
	Amount int64 `json:"amount"`
}

type resultResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
	LedgerTxID  string `json:"ledger_transaction_id,omitempty"`
	LoanStatus  string `json:"loan_state_after,omitempty"`
}

func toResponse(result Result) resultResponse {
	return resultResponse{
		OperationID: result.OperationID,
		Status:      string(result.Status),
		LedgerTxID:  result.LedgerTxID,
		LoanStatus:  string(result.LoanStatus),
	}
}

// Disburse runs the disbursement saga for an approved loan. The caller's
// idempotency key doubles as the operation id, so a retried request resumes
// rather than double-credits.
func (h *Handler) Disburse(c *fiber.Ctx) error {
	result, err := h.coordinator.Disburse(c.UserContext(), c.Params("loanId"), c.Get(idempotencyKeyHeader))
	if err != nil {
		return httpError(result, err, c)
	}
	return c.Status(http.StatusOK).JSON(toResponse(result))
}

// Repay runs the repayment saga for an active loan.
func (h *Handler) Repay(c *fiber.Ctx) error {
	var req repayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.coordinator.Repay(c.UserContext(), c.Params("loanId"), req.Amount, c.Get(idempotencyKeyHeader))
	if err != nil {
		return httpError(result, err, c)
	}
	return c.Status(http.StatusOK).JSON(toResponse(result))
}

// Status returns the saga record for an operation. Read-only admin view.
func (h *Handler) Status(c *fiber.Ctx) error {
	record, err := h.coordinator.Status(c.UserContext(), c.Params("operationId"))
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"operation_id":       record.OperationID,
		"kind":               record.Kind,
		"loan_id":            record.LoanID,
		"account_id":         record.AccountID,
		"amount":             record.Amount,
		"status":             record.Status,
		"ledger_tx_id":       record.LedgerTxID,
		"compensation_tx_id": record.CompensationTxID,
		"retry_count":        record.RetryCount,
		"last_error":         record.LastError,
		"updated_at":         record.UpdatedAt,
	})
}

// httpError maps saga outcomes to HTTP statuses. Compensated and failed sagas
// return their result body with an error status so callers can inspect the
// recorded state.
func httpError(result Result, err error, c *fiber.Ctx) error {
	switch {
	case errors.Is(err, loan.ErrLoanNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, loan.ErrInvalidStateTransition),
		errors.Is(err, schedule.ErrOverpaymentNotAllowed),
		errors.Is(err, ledger.ErrInsufficientFunds):
		if result.OperationID != "" {
			return c.Status(http.StatusUnprocessableEntity).JSON(toResponse(result))
		}
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSagaCompensationFailed):
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	case errors.Is(err, ledger.ErrAmountNotPositive):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
