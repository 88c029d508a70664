package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mosala-finance/mosala/internal/saga"
)

// RegisterSagaRoutes wires the cross-store operations through the coordinator.
func RegisterSagaRoutes(r fiber.Router, h *saga.Handler) {
	r.Post("/loans/:loanId/disbursement", h.Disburse)
	r.Post("/loans/:loanId/repayments", h.Repay)
	r.Get("/sagas/:operationId", h.Status)
}
