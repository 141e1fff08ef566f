package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "SCHEDULED"
	StatusCheckedIn  AppointmentStatus = "CHECKED_IN"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusCompleted  AppointmentStatus = "COMPLETED"
	StatusCancelled  AppointmentStatus = "CANCELLED"
	StatusNoShow     AppointmentStatus = "NO_SHOW"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case StatusScheduled:
		switch next {
		case StatusCheckedIn, StatusInProgress, StatusCancelled, StatusNoShow:
			return true
		}
	case StatusCheckedIn:
		switch next {
		case StatusInProgress, StatusCancelled, StatusNoShow:
			return true
		}
	case StatusInProgress:
		return next == StatusCompleted
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return false
	}
	return false
}

// Occupying reports whether an appointment in this status still holds its
// slot for conflict and capacity checks.
func (s AppointmentStatus) Occupying() bool {
	switch s {
	case StatusCancelled, StatusNoShow:
		return false
	default:
		return true
	}
}

// OperatingHours is one opening window, minutes since local midnight.
type OperatingHours struct {
	Weekday     time.Weekday `json:"weekday"`
	OpenMinute  int          `json:"open_minute"`
	CloseMinute int          `json:"close_minute"`
}

type Clinic struct {
	ID                   uuid.UUID
	Code                 string
	Name                 string
	Active               bool
	Location             string // IANA zone used for calendar-day arithmetic
	BlackoutDates        []time.Time
	Hours                []OperatingHours
	SlotDurationMinutes  int
	OverbookingThreshold int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const (
	DefaultSlotDurationMinutes  = 30
	DefaultOverbookingThreshold = 2
)

func (c *Clinic) location() *time.Location {
	if c.Location == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Day returns the clinic-local midnight bounds of the calendar day holding t.
func (c *Clinic) Day(t time.Time) (start, end time.Time) {
	local := t.In(c.location())
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return start, start.AddDate(0, 0, 1)
}

func (c *Clinic) IsBlackout(t time.Time) bool {
	local := t.In(c.location())
	y, m, d := local.Date()
	for _, b := range c.BlackoutDates {
		by, bm, bd := b.Date()
		if by == y && bm == m && bd == d {
			return true
		}
	}
	return false
}

// WithinHours reports whether [start, end) fits an opening window. Clinics
// with no windows for that weekday are treated as unrestricted.
func (c *Clinic) WithinHours(start, end time.Time) bool {
	local := start.In(c.location())
	dayStart, _ := c.Day(start)
	from := int(local.Sub(dayStart).Minutes())
	to := from + int(end.Sub(start).Minutes())

	configured := false
	for _, h := range c.Hours {
		if h.Weekday != local.Weekday() {
			continue
		}
		configured = true
		if from >= h.OpenMinute && to <= h.CloseMinute {
			return true
		}
	}
	return !configured
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	Number          string
	PatientID       uuid.UUID
	ClinicID        uuid.UUID
	ProviderID      *uuid.UUID
	Start           time.Time
	End             time.Time
	DurationMinutes int
	Status          AppointmentStatus
	CheckInTime     *time.Time
	Notes           string
	ReminderSentAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// setStart moves the appointment and rederives End. End is always
// derived from Start, never set on its own.
func (a *Appointment) setStart(start time.Time, durationMinutes int) {
	a.Start = start
	a.DurationMinutes = durationMinutes
	a.End = start.Add(time.Duration(durationMinutes) * time.Minute)
}

func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

// FormatNumber renders the human facing appointment number for a day and its
// per-day sequence value.
func FormatNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("APT-%s-%04d", day.Format("20060102"), seq)
}

type BookingRequest struct {
	PatientID       uuid.UUID
	ClinicID        uuid.UUID
	ProviderID      *uuid.UUID
	Start           time.Time
	DurationMinutes int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
