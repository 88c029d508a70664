package loan

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes loan lifecycle HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a loan HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type applyRequest struct {
	BorrowerID string `json:"borrower_id"`
	AccountID  string `json:"account_id"`
	Principal  int64  `json:"principal"`
	RateBps    int64  `json:"rate_bps"`
	TermMonths int    `json:"term_months"`
}

type loanResponse struct {
	ID                    string `json:"id"`
	BorrowerID            string `json:"borrower_id"`
	AccountID             string `json:"account_id"`
	Principal             int64  `json:"principal"`
	RateBps               int64  `json:"rate_bps"`
	TermMonths            int    `json:"term_months"`
	Status                string `json:"status"`
	EligibilityAtApproval int64  `json:"eligibility_at_approval,omitempty"`
	DisbursementTxID      string `json:"disbursement_tx_id,omitempty"`
	Reason                string `json:"reason,omitempty"`
}

func toResponse(loan Loan) loanResponse {
	return loanResponse{
		ID:                    loan.ID,
		BorrowerID:            loan.BorrowerID,
		AccountID:             loan.AccountID,
		Principal:             loan.Principal,
		RateBps:               loan.RateBps,
		TermMonths:            loan.TermMonths,
		Status:                string(loan.Status),
		EligibilityAtApproval: loan.EligibilityAtApproval,
		DisbursementTxID:      loan.DisbursementTxID,
		Reason:                loan.Reason,
	}
}

// Apply records a loan application.
func (h *Handler) Apply(c *fiber.Ctx) error {
	var req applyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.BorrowerID == "" {
		req.BorrowerID, _ = c.Locals("user_id").(string)
	}
	loan, err := h.service.Apply(c.UserContext(), ApplyInput{
		BorrowerID: req.BorrowerID,
		AccountID:  req.AccountID,
		Principal:  req.Principal,
		RateBps:    req.RateBps,
		TermMonths: req.TermMonths,
		Actor:      actor(c),
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(loan))
}

// Approve re-checks eligibility and approves or auto-rejects the loan.
func (h *Handler) Approve(c *fiber.Ctx) error {
	loan, err := h.service.Approve(c.UserContext(), c.Params("loanId"), actor(c))
	if errors.Is(err, ErrEligibilityRevoked) {
		return c.Status(http.StatusConflict).JSON(toResponse(loan))
	}
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(loan))
}

// Get returns one loan.
func (h *Handler) Get(c *fiber.Ctx) error {
	loan, err := h.service.Get(c.UserContext(), c.Params("loanId"))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(loan))
}

// List returns loans matching the borrower_id and status query filters.
func (h *Handler) List(c *fiber.Ctx) error {
	loans, err := h.service.List(c.UserContext(), Filter{
		BorrowerID: c.Query("borrower_id"),
		Status:     Status(c.Query("status")),
	})
	if err != nil {
		return httpError(err)
	}
	out := make([]loanResponse, 0, len(loans))
	for _, loan := range loans {
		out = append(out, toResponse(loan))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"loans": out})
}

func actor(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok && id != "" {
		return id
	}
	return "system"
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrLoanNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIneligiblePrincipal):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidStateTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
