package schedule

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu        sync.RWMutex
	schedules map[string][]Installment
	payments  map[string]Payment
}

// NewMemoryRepository constructs an in-memory repository for tests and local
// development.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		schedules: make(map[string][]Installment),
		payments:  make(map[string]Payment),
	}
}

func (r *memoryRepository) CreateSchedule(_ context.Context, loanID string, installments []Installment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schedules[loanID]; exists {
		return ErrScheduleExists
	}
	stored := make([]Installment, len(installments))
	copy(stored, installments)
	r.schedules[loanID] = stored
	return nil
}

func (r *memoryRepository) GetSchedule(_ context.Context, loanID string) ([]Installment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schedule, ok := r.schedules[loanID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	out := make([]Installment, len(schedule))
	copy(out, schedule)
	return out, nil
}

func (r *memoryRepository) UpdateInstallments(_ context.Context, loanID string, installments []Installment, payment *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[loanID]
	if !ok {
		return ErrScheduleNotFound
	}
	for _, updated := range installments {
		for i := range schedule {
			if schedule[i].Sequence == updated.Sequence {
				schedule[i] = updated
				break
			}
		}
	}
	r.schedules[loanID] = schedule
	if payment != nil {
		r.payments[payment.IdempotencyKey] = *payment
	}
	return nil
}

func (r *memoryRepository) FindPaymentByKey(_ context.Context, key string) (Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payment, ok := r.payments[key]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return payment, nil
}

func (r *memoryRepository) PaidTotal(_ context.Context, loanID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum int64
	for _, installment := range r.schedules[loanID] {
		sum += installment.AmountPaid
	}
	return sum, nil
}
