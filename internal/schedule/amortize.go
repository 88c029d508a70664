package schedule

import (
	"time"

	"github.com/shopspring/decimal"
)

// bps per unit, months per year.
const bpsDenominator = 10_000 * 12

// Amortize produces the installment schedule for a loan: a fixed periodic
// payment retiring principal plus interest over the term, each installment's
// interest computed on the remaining balance. Amount arithmetic runs in
// decimal and is rounded back to minor units per installment; the final
// installment absorbs the residual so the principal retires exactly.
// Deterministic given (principal, rateBps, term, start).
func Amortize(loanID string, principal, rateBps int64, term int, start time.Time) []Installment {
	if term <= 0 || principal <= 0 {
		return nil
	}

	installments := make([]Installment, 0, term)

	if rateBps == 0 {
		// Interest-free: split evenly, remainder on the earliest installments.
		base := principal / int64(term)
		remainder := principal % int64(term)
		for i := 0; i < term; i++ {
			due := base
			if int64(i) < remainder {
				due++
			}
			installments = append(installments, Installment{
				LoanID:    loanID,
				Sequence:  i + 1,
				DueDate:   start.AddDate(0, i+1, 0),
				AmountDue: due,
				Status:    InstallmentPending,
			})
		}
		return installments
	}

	monthlyRate := decimal.NewFromInt(rateBps).Div(decimal.NewFromInt(bpsDenominator))
	one := decimal.NewFromInt(1)
	growth := one.Add(monthlyRate).Pow(decimal.NewFromInt(int64(term)))
	payment := decimal.NewFromInt(principal).Mul(monthlyRate).Mul(growth).Div(growth.Sub(one))
	paymentMinor := payment.Round(0).IntPart()

	balance := principal
	for i := 0; i < term; i++ {
		interest := decimal.NewFromInt(balance).Mul(monthlyRate).Round(0).IntPart()
		principalPart := paymentMinor - interest
		if i == term-1 || principalPart >= balance {
			// Final installment retires whatever principal remains.
			principalPart = balance
		}
		balance -= principalPart

		installments = append(installments, Installment{
			LoanID:      loanID,
			Sequence:    i + 1,
			DueDate:     start.AddDate(0, i+1, 0),
			AmountDue:   principalPart + interest,
			InterestDue: interest,
			Status:      InstallmentPending,
		})
		if balance == 0 && i < term-1 {
			// Rounding retired the principal early; no further installments.
			break
		}
	}
	return installments
}

// totalDue sums the amount due across installments.
func totalDue(installments []Installment) int64 {
	var sum int64
	for _, installment := range installments {
		sum += installment.AmountDue
	}
	return sum
}
