package triage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/apperr"
)

var ErrAssessmentNotFound = fmt.Errorf("triage assessment %w", apperr.ErrNotFound)

type Repository interface {
	Create(ctx context.Context, a *Assessment) error
	LatestForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Assessment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Assessment, error)
}

// MemoryRepository keeps assessments in process. Used by tests and the
// memory store backend.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Assessment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Create(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.records = append(m.records, *a)
	return nil
}

func (m *MemoryRepository) LatestForAppointment(_ context.Context, appointmentID uuid.UUID) (*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Assessment
	for i := range m.records {
		r := m.records[i]
		if r.AppointmentID != appointmentID {
			continue
		}
		if latest == nil || !r.AssessedAt.Before(latest.AssessedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, ErrAssessmentNotFound
	}
	return latest, nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit int) ([]Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Assessment
	for _, r := range m.records {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssessedAt.After(out[j].AssessedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
