package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/apperr"
)

// MemoryRepository is an in-process Directory and Repository. It backs the
// memory store mode and the tests.
type MemoryRepository struct {
	mu           sync.RWMutex
	clinics      map[uuid.UUID]Clinic
	providers    map[uuid.UUID]Provider
	appointments map[uuid.UUID]Appointment
	numbers      map[string]uuid.UUID
	sequences    map[string]int64
	events       []EventLog
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clinics:      make(map[uuid.UUID]Clinic),
		providers:    make(map[uuid.UUID]Provider),
		appointments: make(map[uuid.UUID]Appointment),
		numbers:      make(map[string]uuid.UUID),
		sequences:    make(map[string]int64),
		now:          time.Now,
	}
}

func (m *MemoryRepository) PutClinic(c Clinic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clinics[c.ID] = c
}

func (m *MemoryRepository) PutProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}

func (m *MemoryRepository) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func (m *MemoryRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) CountOccupyingForClinic(_ context.Context, clinicID uuid.UUID, from, to time.Time, excludeID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.appointments {
		if a.ClinicID != clinicID || a.ID == excludeID || !a.Status.Occupying() {
			continue
		}
		if !a.Start.Before(from) && a.Start.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListOccupyingForProvider(_ context.Context, providerID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.ProviderID == nil || *a.ProviderID != providerID || a.ID == excludeID || !a.Status.Occupying() {
			continue
		}
		if a.Overlaps(from, to) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryRepository) NextSequence(_ context.Context, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := day.Format("2006-01-02")
	m.sequences[key]++
	return m.sequences[key], nil
}

func (m *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, taken := m.numbers[a.Number]; taken {
		return nil, fmt.Errorf("%w: appointment number %s already exists", apperr.ErrConflict, a.Number)
	}
	now := m.now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.appointments[a.ID] = *a
	m.numbers[a.Number] = a.ID
	out := *a
	return &out, nil
}

func (m *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[a.ID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	a.UpdatedAt = m.now()
	m.appointments[a.ID] = *a
	out := *a
	return &out, nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sortByStart(out)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListByClinic(_ context.Context, clinicID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.ClinicID == clinicID && !a.Start.Before(from) && a.Start.Before(to) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryRepository) FindDueForReminder(_ context.Context, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.Status != StatusScheduled || a.ReminderSentAt != nil {
			continue
		}
		if !a.Start.Before(from) && a.Start.Before(to) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

func sortByStart(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Start.Equal(list[j].Start) {
			return list[i].Number < list[j].Number
		}
		return list[i].Start.Before(list[j].Start)
	})
}
