package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/apperr"
)

var (
	ErrClinicNotFound      = fmt.Errorf("clinic %w", apperr.ErrNotFound)
	ErrProviderNotFound    = fmt.Errorf("provider %w", apperr.ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", apperr.ErrNotFound)
)

// Directory is the read-only clinic and provider lookup.
type Directory interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
}

// Repository contains all appointment storage needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks. excludeID (may be uuid.Nil) is left out so a
	// rescheduled appointment does not collide with itself.
	CountOccupyingForClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time, excludeID uuid.UUID) (int, error)
	ListOccupyingForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]Appointment, error)

	// NextSequence atomically increments and returns the counter for day.
	NextSequence(ctx context.Context, day time.Time) (int64, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// Listing
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Reminder worker
	FindDueForReminder(ctx context.Context, from, to time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
