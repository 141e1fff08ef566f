// Package visit ties the scheduler, triage and queue together into the
// patient journey: book, arrive, get scored, wait, be seen.
package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/notify"
	"github.com/hackgods/clinic-flow/internal/queue"
	"github.com/hackgods/clinic-flow/internal/triage"
)

type Workflow struct {
	scheduler  *appointment.Service
	triage     *triage.Service
	queue      *queue.Manager
	dispatcher notify.Dispatcher
	clock      clock.Clock
	logger     zerolog.Logger
}

func NewWorkflow(scheduler *appointment.Service, triageSvc *triage.Service, queueMgr *queue.Manager, dispatcher notify.Dispatcher, clk clock.Clock, logger zerolog.Logger) *Workflow {
	return &Workflow{
		scheduler:  scheduler,
		triage:     triageSvc,
		queue:      queueMgr,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger.With().Str("component", "visit").Logger(),
	}
}

// CheckInResult is what the front desk gets back on arrival.
type CheckInResult struct {
	Appointment *appointment.Appointment
	Assessment  *triage.Assessment
	Entry       *queue.Entry
}

func (w *Workflow) Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error) {
	a, err := w.scheduler.Book(ctx, req)
	if err != nil {
		return nil, err
	}
	w.notify(ctx, notify.KindBookingConfirmed, a, fmt.Sprintf("Appointment %s booked for %s", a.Number, a.Start.Format(time.RFC1123)))
	return a, nil
}

func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return w.scheduler.Get(ctx, id)
}

func (w *Workflow) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	return w.scheduler.ListByPatient(ctx, patientID, limit, offset)
}

func (w *Workflow) ListByClinicDay(ctx context.Context, clinicID uuid.UUID, day time.Time) ([]appointment.Appointment, error) {
	return w.scheduler.ListByClinicDay(ctx, clinicID, day)
}

// CheckIn marks the patient as arrived. When vitals are supplied they are
// scored and the patient is queued with the resulting band. Vitals and the
// queue are checked before anything is changed. An appointment already
// checked in but not queued picks up at triage, so a failed triage or
// enqueue can be retried with the same call.
func (w *Workflow) CheckIn(ctx context.Context, appointmentID uuid.UUID, vitals *triage.Vitals, assessedBy string) (*CheckInResult, error) {
	if vitals != nil {
		if err := vitals.Validate(); err != nil {
			return nil, err
		}
	}

	a, err := w.scheduler.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if vitals != nil {
		queued, err := w.queue.IsQueued(ctx, a.ClinicID, a.ID)
		if err != nil {
			return nil, fmt.Errorf("check queue: %w", err)
		}
		if queued {
			return nil, queue.ErrAlreadyQueued
		}
	}

	if vitals == nil || a.Status != appointment.StatusCheckedIn {
		if a, err = w.scheduler.CheckIn(ctx, appointmentID); err != nil {
			return nil, err
		}
	}
	res := &CheckInResult{Appointment: a}
	if vitals == nil {
		return res, nil
	}

	assessment, err := w.SubmitTriage(ctx, a.ID, a.PatientID, *vitals, assessedBy)
	if err != nil {
		return nil, fmt.Errorf("triage after check-in: %w", err)
	}
	res.Assessment = assessment

	entry, err := w.queue.Enqueue(ctx, a.ClinicID, a.ID, a.PatientID, assessment.Band)
	if err != nil {
		return nil, fmt.Errorf("enqueue after check-in: %w", err)
	}
	res.Entry = &entry
	return res, nil
}

// SubmitTriage scores vitals and raises a staff alert for critical patients.
func (w *Workflow) SubmitTriage(ctx context.Context, appointmentID, patientID uuid.UUID, vitals triage.Vitals, assessedBy string) (*triage.Assessment, error) {
	a, err := w.triage.Submit(ctx, appointmentID, patientID, vitals, assessedBy)
	if err != nil {
		return nil, err
	}
	if a.Band == triage.BandCritical {
		w.dispatcher.Dispatch(ctx, notify.Notification{
			Kind:          notify.KindTriageCritical,
			PatientID:     patientID,
			AppointmentID: appointmentID,
			Message:       fmt.Sprintf("Critical triage score %d", a.CalculatedScore),
			Data:          map[string]string{"score": fmt.Sprint(a.CalculatedScore)},
			CreatedAt:     w.clock.Now(),
		})
	}
	return a, nil
}

func (w *Workflow) LatestTriage(ctx context.Context, appointmentID uuid.UUID) (*triage.Assessment, error) {
	return w.triage.Latest(ctx, appointmentID)
}

// TriageHistory lists a patient's assessments, newest first.
func (w *Workflow) TriageHistory(ctx context.Context, patientID uuid.UUID, limit int) ([]triage.Assessment, error) {
	return w.triage.History(ctx, patientID, limit)
}

func (w *Workflow) Enqueue(ctx context.Context, clinicID, appointmentID, patientID uuid.UUID, band triage.Band) (queue.Entry, error) {
	return w.queue.Enqueue(ctx, clinicID, appointmentID, patientID, band)
}

// ProcessNext calls the next patient and starts their appointment.
func (w *Workflow) ProcessNext(ctx context.Context, clinicID uuid.UUID) (queue.Entry, error) {
	entry, err := w.queue.ProcessNext(ctx, clinicID)
	if err != nil {
		return queue.Entry{}, err
	}

	a, err := w.scheduler.Start(ctx, entry.AppointmentID)
	if err != nil {
		w.logger.Warn().Err(err).
			Str("appointment_id", entry.AppointmentID.String()).
			Msg("queue entry started but appointment did not follow")
		return entry, nil
	}
	w.notify(ctx, notify.KindQueueCalled, a, "Please proceed to the consultation room")
	return entry, nil
}

// Complete finishes the patient's consultation and reprices everyone still
// waiting.
func (w *Workflow) Complete(ctx context.Context, clinicID, patientID uuid.UUID) ([]queue.Entry, error) {
	done, err := w.queue.Complete(ctx, clinicID, patientID)
	if err != nil {
		return nil, err
	}

	for _, e := range done {
		if _, err := w.scheduler.Complete(ctx, e.AppointmentID); err != nil {
			w.logger.Warn().Err(err).
				Str("appointment_id", e.AppointmentID.String()).
				Msg("queue entry completed but appointment did not follow")
		}
	}

	if _, err := w.queue.RefreshEstimates(ctx, clinicID); err != nil && !errors.Is(err, queue.ErrQueueNotFound) {
		w.logger.Warn().Err(err).Str("clinic_id", clinicID.String()).Msg("refresh after completion failed")
	}
	return done, nil
}

func (w *Workflow) Reschedule(ctx context.Context, appointmentID uuid.UUID, newStart time.Time) (*appointment.Appointment, error) {
	a, err := w.scheduler.Reschedule(ctx, appointmentID, newStart)
	if err != nil {
		return nil, err
	}
	w.notify(ctx, notify.KindRescheduled, a, fmt.Sprintf("Appointment %s moved to %s", a.Number, a.Start.Format(time.RFC1123)))
	return a, nil
}

// Cancel cancels the appointment and drops the patient from the clinic queue
// if they were waiting.
func (w *Workflow) Cancel(ctx context.Context, appointmentID uuid.UUID, reason string) (*appointment.Appointment, error) {
	a, err := w.scheduler.Cancel(ctx, appointmentID, reason)
	if err != nil {
		return nil, err
	}
	w.dequeue(ctx, a)
	w.notify(ctx, notify.KindCancelled, a, fmt.Sprintf("Appointment %s cancelled", a.Number))
	return a, nil
}

func (w *Workflow) NoShow(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	a, err := w.scheduler.MarkNoShow(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	w.dequeue(ctx, a)
	return a, nil
}

func (w *Workflow) Position(ctx context.Context, clinicID, patientID uuid.UUID) (int, error) {
	return w.queue.Position(ctx, clinicID, patientID)
}

func (w *Workflow) RefreshEstimates(ctx context.Context, clinicID uuid.UUID) (*queue.Queue, error) {
	return w.queue.RefreshEstimates(ctx, clinicID)
}

func (w *Workflow) Snapshot(ctx context.Context, clinicID uuid.UUID) (*queue.Queue, error) {
	return w.queue.Snapshot(ctx, clinicID)
}

// SendReminders dispatches a reminder for every scheduled appointment
// starting within window and returns how many were sent.
func (w *Workflow) SendReminders(ctx context.Context, window time.Duration) (int, error) {
	due, err := w.scheduler.DueForReminder(ctx, window)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		a := &due[i]
		// marked first: an appointment cancelled since the lookup is skipped
		if err := w.scheduler.MarkReminderSent(ctx, a.ID); err != nil {
			w.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("reminder skipped")
			continue
		}
		w.notify(ctx, notify.KindReminder, a, fmt.Sprintf("Reminder: appointment %s at %s", a.Number, a.Start.Format(time.RFC1123)))
		sent++
	}
	return sent, nil
}

func (w *Workflow) dequeue(ctx context.Context, a *appointment.Appointment) {
	_, err := w.queue.Cancel(ctx, a.ClinicID, a.ID)
	if err != nil && !errors.Is(err, queue.ErrPatientNotQueued) {
		w.logger.Warn().Err(err).
			Str("appointment_id", a.ID.String()).
			Msg("failed to drop cancelled appointment from queue")
	}
}

func (w *Workflow) notify(ctx context.Context, kind notify.Kind, a *appointment.Appointment, msg string) {
	w.dispatcher.Dispatch(ctx, notify.Notification{
		Kind:          kind,
		PatientID:     a.PatientID,
		AppointmentID: a.ID,
		ClinicID:      a.ClinicID,
		Message:       msg,
		Data:          map[string]string{"number": a.Number},
		CreatedAt:     w.clock.Now(),
	})
}
