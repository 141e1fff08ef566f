package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/queue"
	"github.com/hackgods/clinic-flow/internal/triage"
)

type BookAppointmentRequest struct {
	PatientID       string    `json:"patient_id"`
	ClinicID        string    `json:"clinic_id"`
	ProviderID      string    `json:"provider_id,omitempty"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

func (r BookAppointmentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, validation.Required, is.UUID),
		validation.Field(&r.ClinicID, validation.Required, is.UUID),
		validation.Field(&r.ProviderID, is.UUID),
		validation.Field(&r.Start, validation.Required),
		validation.Field(&r.DurationMinutes, validation.Min(0)),
	)
}

type CheckInRequest struct {
	Vitals     *triage.Vitals `json:"vitals,omitempty"`
	AssessedBy string         `json:"assessed_by,omitempty"`
}

type RescheduleRequest struct {
	Start time.Time `json:"start"`
}

func (r RescheduleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Start, validation.Required),
	)
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type TriageRequest struct {
	AppointmentID string        `json:"appointment_id"`
	PatientID     string        `json:"patient_id"`
	Vitals        triage.Vitals `json:"vitals"`
	AssessedBy    string        `json:"assessed_by,omitempty"`
}

func (r TriageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AppointmentID, validation.Required, is.UUID),
		validation.Field(&r.PatientID, validation.Required, is.UUID),
	)
}

type EnqueueRequest struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	Band          string `json:"band"`
}

func (r EnqueueRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AppointmentID, validation.Required, is.UUID),
		validation.Field(&r.PatientID, validation.Required, is.UUID),
		validation.Field(&r.Band, validation.Required, validation.In(
			string(triage.BandCritical), string(triage.BandHigh), string(triage.BandMedium), string(triage.BandLow),
		)),
	)
}

type CompleteRequest struct {
	PatientID string `json:"patient_id"`
}

func (r CompleteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, validation.Required, is.UUID),
	)
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	Number          string     `json:"number"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ClinicID        uuid.UUID  `json:"clinic_id"`
	ProviderID      *uuid.UUID `json:"provider_id,omitempty"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	CheckInTime     *time.Time `json:"check_in_time,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		Number:          a.Number,
		PatientID:       a.PatientID,
		ClinicID:        a.ClinicID,
		ProviderID:      a.ProviderID,
		Start:           a.Start,
		End:             a.End,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		CheckInTime:     a.CheckInTime,
		Notes:           a.Notes,
	}
}

type AssessmentResponse struct {
	ID              uuid.UUID     `json:"id"`
	AppointmentID   uuid.UUID     `json:"appointment_id"`
	PatientID       uuid.UUID     `json:"patient_id"`
	Vitals          triage.Vitals `json:"vitals"`
	CalculatedScore int           `json:"calculated_score"`
	Band            string        `json:"band"`
	AssessedBy      string        `json:"assessed_by,omitempty"`
	AssessedAt      time.Time     `json:"assessed_at"`
}

func toAssessmentResponse(a *triage.Assessment) AssessmentResponse {
	return AssessmentResponse{
		ID:              a.ID,
		AppointmentID:   a.AppointmentID,
		PatientID:       a.PatientID,
		Vitals:          a.Vitals,
		CalculatedScore: a.CalculatedScore,
		Band:            string(a.Band),
		AssessedBy:      a.AssessedBy,
		AssessedAt:      a.AssessedAt,
	}
}

type CheckInResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Assessment  *AssessmentResponse `json:"assessment,omitempty"`
	QueueEntry  *queue.Entry        `json:"queue_entry,omitempty"`
}

type PositionResponse struct {
	ClinicID  uuid.UUID `json:"clinic_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Position  int       `json:"position"`
}

type CompleteResponse struct {
	Completed []queue.Entry `json:"completed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
