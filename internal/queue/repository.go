package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/apperr"
)

var (
	ErrQueueNotFound = fmt.Errorf("queue %w", apperr.ErrNotFound)
	ErrStaleQueue    = fmt.Errorf("%w: queue was modified concurrently", apperr.ErrConflict)
)

// Repository stores one Queue per clinic. Save must reject a queue whose
// Version no longer matches the stored one and bump Version on success.
type Repository interface {
	Load(ctx context.Context, clinicID uuid.UUID) (*Queue, error)
	Save(ctx context.Context, q *Queue) error
}

type MemoryRepository struct {
	mu     sync.RWMutex
	queues map[uuid.UUID]Queue
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{queues: make(map[uuid.UUID]Queue)}
}

func (m *MemoryRepository) Load(_ context.Context, clinicID uuid.UUID) (*Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[clinicID]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return q.clone(), nil
}

func (m *MemoryRepository) Save(_ context.Context, q *Queue) error {
	if err := q.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.queues[q.ClinicID]
	switch {
	case !ok && q.Version != 0:
		return ErrStaleQueue
	case ok && stored.Version != q.Version:
		return ErrStaleQueue
	}
	q.Version++
	m.queues[q.ClinicID] = *q.clone()
	return nil
}
