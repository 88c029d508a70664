package schedule

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the read-only schedule view.
type Handler struct {
	service *Service
}

// NewHandler builds a schedule HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type installmentResponse struct {
	Sequence    int    `json:"sequence"`
	DueDate     string `json:"due_date"`
	AmountDue   int64  `json:"amount_due"`
	InterestDue int64  `json:"interest_due"`
	AmountPaid  int64  `json:"amount_paid"`
	Status      string `json:"status"`
}

// Get returns the loan's installment schedule.
func (h *Handler) Get(c *fiber.Ctx) error {
	loanID := c.Params("loanId")
	installments, err := h.service.Schedule(c.UserContext(), loanID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]installmentResponse, 0, len(installments))
	var outstanding int64
	for _, installment := range installments {
		out = append(out, installmentResponse{
			Sequence:    installment.Sequence,
			DueDate:     installment.DueDate.Format("2006-01-02"),
			AmountDue:   installment.AmountDue,
			InterestDue: installment.InterestDue,
			AmountPaid:  installment.AmountPaid,
			Status:      string(installment.Status),
		})
		outstanding += installment.Outstanding()
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"loan_id":      loanID,
		"outstanding":  outstanding,
		"installments": out,
	})
}
