package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-flow/internal/apperr"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/lock"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCheckedIn   = "APPOINTMENT_CHECKED_IN"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventAppointmentStarted     = "APPOINTMENT_STARTED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
)

var (
	ErrClinicInactive        = fmt.Errorf("%w: clinic is inactive", apperr.ErrConflict)
	ErrClinicClosed          = fmt.Errorf("%w: clinic is closed at the requested time", apperr.ErrConflict)
	ErrProviderInactive      = fmt.Errorf("%w: provider is inactive", apperr.ErrConflict)
	ErrOverbookingExceeded   = fmt.Errorf("%w: clinic is at its overbooking threshold for this day", apperr.ErrConflict)
	ErrProviderAlreadyBooked = fmt.Errorf("%w: provider is already booked at this time", apperr.ErrConflict)
	ErrBookingContended      = fmt.Errorf("%w: slot is currently being booked, please retry", apperr.ErrConflict)
)

var ErrInvalidStatusTransition = fmt.Errorf("appointment %w", apperr.ErrState)

type Service struct {
	repo      Repository
	directory Directory
	locker    lock.Locker
	clock     clock.Clock
	logger    zerolog.Logger
}

func NewService(repo Repository, directory Directory, locker lock.Locker, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		locker:    locker,
		clock:     clk,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

func (r BookingRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, validation.By(notNilUUID)),
		validation.Field(&r.ClinicID, validation.By(notNilUUID)),
		validation.Field(&r.Start, validation.Required),
		validation.Field(&r.DurationMinutes, validation.Min(0), validation.Max(24*60)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

func notNilUUID(value interface{}) error {
	if id, _ := value.(uuid.UUID); id == uuid.Nil {
		return errors.New("is required")
	}
	return nil
}

// Book validates the request against the clinic and provider and reserves the
// slot. The clinic-day and provider locks are held from the conflict check
// until the appointment is stored, so two concurrent bookings can never both
// pass validation.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	clinic, err := s.loadBookableClinic(ctx, req.ClinicID)
	if err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = clinic.SlotDurationMinutes
	}
	if duration <= 0 {
		duration = DefaultSlotDurationMinutes
	}

	appt := &Appointment{
		PatientID:  req.PatientID,
		ClinicID:   req.ClinicID,
		ProviderID: req.ProviderID,
		Status:     StatusScheduled,
	}
	appt.setStart(req.Start, duration)

	if err := checkOpen(clinic, appt.Start, appt.End); err != nil {
		return nil, err
	}

	if req.ProviderID != nil {
		if err := s.checkProvider(ctx, *req.ProviderID); err != nil {
			return nil, err
		}
	}

	var created *Appointment
	err = s.withBookingLocks(ctx, clinic, appt, nil, func(lockCtx context.Context) error {
		if err := s.checkConflicts(lockCtx, clinic, appt); err != nil {
			return err
		}

		day, _ := clinic.Day(appt.Start)
		seq, err := s.repo.NextSequence(lockCtx, day)
		if err != nil {
			return fmt.Errorf("next appointment number: %w", err)
		}
		appt.Number = FormatNumber(day, seq)

		stored, err := s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = stored

		s.logEvent(lockCtx, stored.ID, EventAppointmentBooked, map[string]any{
			"number":      stored.Number,
			"clinic_id":   stored.ClinicID.String(),
			"patient_id":  stored.PatientID.String(),
			"start":       stored.Start,
			"end":         stored.End,
			"provider_id": providerString(stored.ProviderID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("number", created.Number).
		Str("patient_id", created.PatientID.String()).
		Str("clinic_id", created.ClinicID.String()).
		Msg("appointment booked")

	return created, nil
}

// Reschedule moves an appointment to newStart keeping its duration, running
// the same opening and conflict checks as a fresh booking.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, fmt.Errorf("%w: new start is required", apperr.ErrValidation)
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if current.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: cannot reschedule from %s", ErrInvalidStatusTransition, current.Status)
	}

	clinic, err := s.loadBookableClinic(ctx, current.ClinicID)
	if err != nil {
		return nil, err
	}

	moved := *current
	moved.setStart(newStart, current.DurationMinutes)

	if err := checkOpen(clinic, moved.Start, moved.End); err != nil {
		return nil, err
	}
	if moved.ProviderID != nil {
		if err := s.checkProvider(ctx, *moved.ProviderID); err != nil {
			return nil, err
		}
	}

	var updated *Appointment
	err = s.withBookingLocks(ctx, clinic, &moved, []string{appointmentLockKey(id)}, func(lockCtx context.Context) error {
		// re-read under the lock: a concurrent cancel must win
		latest, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if latest.Status != StatusScheduled {
			return fmt.Errorf("%w: cannot reschedule from %s", ErrInvalidStatusTransition, latest.Status)
		}

		next := *latest
		next.setStart(newStart, latest.DurationMinutes)
		next.ReminderSentAt = nil

		if err := s.checkConflicts(lockCtx, clinic, &next); err != nil {
			return err
		}

		stored, err := s.repo.UpdateAppointment(lockCtx, &next)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		updated = stored

		s.logEvent(lockCtx, stored.ID, EventAppointmentRescheduled, map[string]any{
			"from": latest.Start,
			"to":   stored.Start,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CheckIn records the patient's arrival.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCheckedIn, EventAppointmentCheckedIn, func(a *Appointment) {
		now := s.clock.Now()
		a.CheckInTime = &now
	}, nil)
}

// Cancel frees the slot. Cancelled appointments no longer count against
// clinic capacity or provider availability.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled, func(a *Appointment) {
		note := "Cancelled"
		if reason != "" {
			note += ": " + reason
		}
		if a.Notes != "" {
			a.Notes += ". "
		}
		a.Notes += note
	}, map[string]any{"reason": reason})
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, EventAppointmentNoShow, nil, nil)
}

// Start moves the appointment into the consultation. Driven by the queue.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, EventAppointmentStarted, nil, nil)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted, nil, nil)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// ListByPatient retrieves appointments for a specific patient
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

// ListByClinicDay returns every appointment on the clinic-local calendar day
// containing day.
func (s *Service) ListByClinicDay(ctx context.Context, clinicID uuid.UUID, day time.Time) ([]Appointment, error) {
	clinic, err := s.directory.GetClinicByID(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}
	from, to := clinic.Day(day)
	list, err := s.repo.ListByClinic(ctx, clinicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by clinic: %w", err)
	}
	return list, nil
}

// DueForReminder lists scheduled appointments starting within window of now
// that have not been reminded yet.
func (s *Service) DueForReminder(ctx context.Context, window time.Duration) ([]Appointment, error) {
	now := s.clock.Now()
	list, err := s.repo.FindDueForReminder(ctx, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("find appointments due for reminder: %w", err)
	}
	return list, nil
}

// MarkReminderSent stamps the reminder time on a still scheduled
// appointment. It runs under the appointment lock so a concurrent transition
// is never overwritten.
func (s *Service) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	return s.locker.WithLock(ctx, appointmentLockKey(id), func(lockCtx context.Context) error {
		a, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if a.Status != StatusScheduled {
			return fmt.Errorf("%w: no reminder for %s appointment", ErrInvalidStatusTransition, a.Status)
		}
		now := s.clock.Now()
		a.ReminderSentAt = &now
		if _, err := s.repo.UpdateAppointment(lockCtx, a); err != nil {
			return fmt.Errorf("mark reminder sent: %w", err)
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, event string, mutate func(*Appointment), payload map[string]any) (*Appointment, error) {
	var updated *Appointment
	err := s.locker.WithLock(ctx, appointmentLockKey(id), func(lockCtx context.Context) error {
		a, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !a.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, a.Status, to)
		}

		from := a.Status
		a.Status = to
		if mutate != nil {
			mutate(a)
		}

		stored, err := s.repo.UpdateAppointment(lockCtx, a)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		updated = stored

		if payload == nil {
			payload = map[string]any{}
		}
		payload["from"] = string(from)
		s.logEvent(lockCtx, id, event, payload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) loadBookableClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	clinic, err := s.directory.GetClinicByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrClinicNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load clinic: %w", err)
	}
	if !clinic.Active {
		return nil, ErrClinicInactive
	}
	if clinic.OverbookingThreshold <= 0 {
		clinic.OverbookingThreshold = DefaultOverbookingThreshold
	}
	return clinic, nil
}

func (s *Service) checkProvider(ctx context.Context, id uuid.UUID) error {
	provider, err := s.directory.GetProviderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return err
		}
		return fmt.Errorf("load provider: %w", err)
	}
	if !provider.Active {
		return ErrProviderInactive
	}
	return nil
}

func checkOpen(clinic *Clinic, start, end time.Time) error {
	if clinic.IsBlackout(start) {
		return fmt.Errorf("%w: %s is a blackout date", ErrClinicClosed, start.In(clinic.location()).Format("2006-01-02"))
	}
	if !clinic.WithinHours(start, end) {
		return fmt.Errorf("%w: outside operating hours", ErrClinicClosed)
	}
	return nil
}

// checkConflicts must run with the booking locks held.
func (s *Service) checkConflicts(ctx context.Context, clinic *Clinic, appt *Appointment) error {
	from, to := clinic.Day(appt.Start)
	count, err := s.repo.CountOccupyingForClinic(ctx, clinic.ID, from, to, appt.ID)
	if err != nil {
		return fmt.Errorf("count clinic appointments: %w", err)
	}
	if count >= clinic.OverbookingThreshold {
		return ErrOverbookingExceeded
	}

	if appt.ProviderID != nil {
		clashes, err := s.repo.ListOccupyingForProvider(ctx, *appt.ProviderID, appt.Start, appt.End, appt.ID)
		if err != nil {
			return fmt.Errorf("check provider availability: %w", err)
		}
		if len(clashes) > 0 {
			return fmt.Errorf("%w (%s)", ErrProviderAlreadyBooked, clashes[0].Number)
		}
	}
	return nil
}

// withBookingLocks takes the clinic-day key, then the provider key, then any
// extra keys, always in that order.
func (s *Service) withBookingLocks(ctx context.Context, clinic *Clinic, appt *Appointment, extra []string, fn func(ctx context.Context) error) error {
	day, _ := clinic.Day(appt.Start)
	keys := []string{clinicDayLockKey(clinic.ID, day)}
	if appt.ProviderID != nil {
		keys = append(keys, providerLockKey(*appt.ProviderID))
	}
	keys = append(keys, extra...)

	err := lock.WithLocks(ctx, s.locker, keys, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return fmt.Errorf("%w: %v", ErrBookingContended, err)
	}
	return err
}

func clinicDayLockKey(clinicID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("clinic:%s:day:%s", clinicID, day.Format("2006-01-02"))
}

func providerLockKey(providerID uuid.UUID) string {
	return fmt.Sprintf("provider:%s", providerID)
}

func appointmentLockKey(id uuid.UUID) string {
	return fmt.Sprintf("appointment:%s", id)
}

func providerString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
