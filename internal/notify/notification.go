package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindBookingConfirmed Kind = "BOOKING_CONFIRMED"
	KindReminder         Kind = "APPOINTMENT_REMINDER"
	KindCancelled        Kind = "APPOINTMENT_CANCELLED"
	KindRescheduled      Kind = "APPOINTMENT_RESCHEDULED"
	KindQueueCalled      Kind = "QUEUE_CALLED"
	KindTriageCritical   Kind = "TRIAGE_CRITICAL"
)

// Notification is a message for a patient or for clinic staff.
type Notification struct {
	Kind          Kind              `json:"kind"`
	PatientID     uuid.UUID         `json:"patient_id"`
	AppointmentID uuid.UUID         `json:"appointment_id,omitempty"`
	ClinicID      uuid.UUID         `json:"clinic_id,omitempty"`
	Message       string            `json:"message"`
	Data          map[string]string `json:"data,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Dispatcher hands notifications off for delivery. It is fire-and-forget:
// failures are logged by the implementation and never reported back.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// LogDispatcher only logs. Used when no task queue is configured.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "notify").Logger()}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) {
	d.logger.Info().
		Str("kind", string(n.Kind)).
		Str("patient_id", n.PatientID.String()).
		Str("appointment_id", n.AppointmentID.String()).
		Msg(n.Message)
}

// Recorder keeps every dispatched notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Dispatch(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Kinds lists the kinds dispatched so far, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Kind
	}
	return out
}
