package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mosala-finance/mosala/internal/ledger"
)

// RegisterAccountRoutes wires the ledger account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *ledger.Handler) {
	r.Post("/accounts", h.Open)
	r.Get("/accounts/:accountId/balance", h.Balance)
	r.Get("/accounts/:accountId/transactions", h.Transactions)
	r.Post("/accounts/:accountId/deposits", h.Deposit)
	r.Post("/accounts/:accountId/withdrawals", h.Withdraw)
}
