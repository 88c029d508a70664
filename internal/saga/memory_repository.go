package saga

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository constructs an in-memory repository for tests and local
// development.
func NewMemoryRepository() Repository {
	return &memoryRepository{records: make(map[string]Record)}
}

func (r *memoryRepository) Create(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.OperationID]; exists {
		return errors.New("saga exists")
	}
	r.records[record.OperationID] = record
	return nil
}

func (r *memoryRepository) Get(_ context.Context, operationID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[operationID]
	if !ok {
		return Record{}, ErrSagaNotFound
	}
	return record, nil
}

func (r *memoryRepository) Update(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.OperationID]; !ok {
		return ErrSagaNotFound
	}
	r.records[record.OperationID] = record
	return nil
}

func (r *memoryRepository) ListUnresolved(_ context.Context) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, record := range r.records {
		if record.Status == StatusPending || record.Status == StatusCompensating {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
