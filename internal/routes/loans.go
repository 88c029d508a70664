package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mosala-finance/mosala/internal/loan"
	"github.com/mosala-finance/mosala/internal/schedule"
)

// RegisterLoanRoutes wires the loan lifecycle and schedule endpoints.
func RegisterLoanRoutes(r fiber.Router, h *loan.Handler, sh *schedule.Handler) {
	r.Post("/loans", h.Apply)
	r.Get("/loans", h.List)
	r.Get("/loans/:loanId", h.Get)
	r.Post("/loans/:loanId/approval", h.Approve)
	r.Get("/loans/:loanId/schedule", sh.Get)
}
