package ledger

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes account and posting HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	OwnerID string `json:"owner_id"`
}

type postingRequest struct {
	Amount int64 `json:"amount"`
}

type postingResponse struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
	Replayed      bool   `json:"replayed,omitempty"`
}

// Open provisions an account for the resolved owner.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.OwnerID == "" {
		req.OwnerID, _ = c.Locals("user_id").(string)
	}
	account, err := h.service.Open(c.UserContext(), req.OwnerID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"id":         account.ID,
		"owner_id":   account.OwnerID,
		"balance":    account.Balance,
		"created_at": account.CreatedAt,
	})
}

// Balance returns the current account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	balance, err := h.service.Balance(c.UserContext(), accountID)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": accountID,
		"balance":    balance,
		"timestamp":  time.Now().UTC(),
	})
}

// Deposit credits the account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.post(c, h.service.Deposit)
}

// Withdraw debits the account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.post(c, h.service.Withdraw)
}

// Transactions lists the account's full transaction log. Read-only view used
// by admin dashboards and reconciliation review.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	transactions, err := h.service.ListTransactions(c.UserContext(), accountID)
	if err != nil {
		return httpError(err)
	}
	out := make([]fiber.Map, 0, len(transactions))
	for _, tx := range transactions {
		out = append(out, fiber.Map{
			"id":            tx.ID,
			"kind":          tx.Kind,
			"amount":        tx.Amount,
			"balance_after": tx.BalanceAfter,
			"created_at":    tx.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"account_id": accountID, "transactions": out})
}

func (h *Handler) post(c *fiber.Ctx, op func(ctx context.Context, accountID string, amount int64, key string) (Posting, error)) error {
	var req postingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	posting, err := op(c.UserContext(), c.Params("accountId"), req.Amount, c.Get(idempotencyKeyHeader))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(postingResponse{
		TransactionID: posting.TransactionID,
		AccountID:     posting.AccountID,
		Kind:          string(posting.Kind),
		Amount:        posting.Amount,
		Balance:       posting.Balance,
		Replayed:      posting.Replayed,
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConcurrentModification):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAmountNotPositive):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
