package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-flow/internal/triage"
)

type EntryStatus string

const (
	EntryWaiting    EntryStatus = "WAITING"
	EntryInProgress EntryStatus = "IN_PROGRESS"
	EntryCompleted  EntryStatus = "COMPLETED"
	EntryCancelled  EntryStatus = "CANCELLED"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case EntryWaiting, EntryInProgress, EntryCompleted, EntryCancelled:
		return true
	default:
		return false
	}
}

// Entry is one patient's place in a clinic queue.
type Entry struct {
	PatientID          uuid.UUID   `json:"patient_id"`
	AppointmentID      uuid.UUID   `json:"appointment_id"`
	Band               triage.Band `json:"band"`
	Rank               int         `json:"rank"`
	ETAMinutes         int         `json:"eta_minutes"`
	Status             EntryStatus `json:"status"`
	QueuedAt           time.Time   `json:"queued_at"`
	EstimatedStartTime time.Time   `json:"estimated_start_time"`
}

// less orders entries by urgency, then arrival.
func (e Entry) less(o Entry) bool {
	if e.Rank != o.Rank {
		return e.Rank < o.Rank
	}
	return e.QueuedAt.Before(o.QueuedAt)
}

// Queue is the per-clinic wait list. TotalWaiting always equals len(Entries).
type Queue struct {
	ClinicID           uuid.UUID `json:"clinic_id"`
	Entries            []Entry   `json:"entries"`
	CurrentPosition    int       `json:"current_position"`
	TotalWaiting       int       `json:"total_waiting"`
	AverageWaitMinutes int       `json:"average_wait_minutes"`
	LastUpdated        time.Time `json:"last_updated"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
}

func newQueue(clinicID uuid.UUID, avg int, now time.Time) *Queue {
	return &Queue{
		ClinicID:           clinicID,
		Entries:            []Entry{},
		AverageWaitMinutes: avg,
		LastUpdated:        now,
		CreatedAt:          now,
	}
}

func (q *Queue) clone() *Queue {
	c := *q
	c.Entries = append([]Entry(nil), q.Entries...)
	return &c
}

// insert places e after every entry that does not sort strictly after it,
// so equal keys keep arrival order.
func (q *Queue) insert(e Entry) {
	i := len(q.Entries)
	for j, cur := range q.Entries {
		if e.less(cur) {
			i = j
			break
		}
	}
	q.Entries = append(q.Entries, Entry{})
	copy(q.Entries[i+1:], q.Entries[i:])
	q.Entries[i] = e
	q.TotalWaiting = len(q.Entries)
}

// validate rejects entries carrying a status outside the closed set.
func (q *Queue) validate() error {
	for _, e := range q.Entries {
		if !e.Status.Valid() {
			return fmt.Errorf("queue %s: appointment %s has unknown status %q", q.ClinicID, e.AppointmentID, e.Status)
		}
	}
	return nil
}

func (q *Queue) indexOfAppointment(id uuid.UUID) int {
	for i, e := range q.Entries {
		if e.AppointmentID == id {
			return i
		}
	}
	return -1
}
