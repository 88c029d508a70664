package loan

import (
	"context"
	"errors"
	"sync"
)

type memoryRepository struct {
	mu          sync.RWMutex
	loans       map[string]Loan
	order       []string
	transitions map[string][]Transition
}

// NewMemoryRepository constructs an in-memory repository for tests and local
// development.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		loans:       make(map[string]Loan),
		transitions: make(map[string][]Transition),
	}
}

func (r *memoryRepository) Create(_ context.Context, loan Loan, transition Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loans[loan.ID]; exists {
		return errors.New("loan exists")
	}
	r.loans[loan.ID] = loan
	r.order = append(r.order, loan.ID)
	r.transitions[loan.ID] = append(r.transitions[loan.ID], transition)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, loanID string) (Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loan, ok := r.loans[loanID]
	if !ok {
		return Loan{}, ErrLoanNotFound
	}
	return loan, nil
}

func (r *memoryRepository) UpdateConditional(_ context.Context, loan Loan, from Status, transition Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.loans[loan.ID]
	if !ok {
		return ErrLoanNotFound
	}
	if current.Status != from {
		return ErrStatusConflict
	}
	r.loans[loan.ID] = loan
	r.transitions[loan.ID] = append(r.transitions[loan.ID], transition)
	return nil
}

func (r *memoryRepository) List(_ context.Context, filter Filter) ([]Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Loan
	for _, id := range r.order {
		loan := r.loans[id]
		if filter.BorrowerID != "" && loan.BorrowerID != filter.BorrowerID {
			continue
		}
		if filter.Status != "" && loan.Status != filter.Status {
			continue
		}
		out = append(out, loan)
	}
	return out, nil
}

func (r *memoryRepository) Transitions(_ context.Context, loanID string) ([]Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transition, len(r.transitions[loanID]))
	copy(out, r.transitions[loanID])
	return out, nil
}
