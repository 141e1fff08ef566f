package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-flow/internal/apperr"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/lock"
	"github.com/hackgods/clinic-flow/internal/triage"
)

const DefaultAverageWaitMinutes = 15

var (
	// ErrQueueEmpty is returned by ProcessNext when nobody is waiting. It is
	// an outcome, not a failure kind.
	ErrQueueEmpty = errors.New("queue has no waiting patients")

	ErrPatientNotQueued = fmt.Errorf("patient %w in queue", apperr.ErrNotFound)
	ErrAlreadyQueued    = fmt.Errorf("%w: appointment is already queued", apperr.ErrConflict)
	ErrNotInProgress    = fmt.Errorf("%w: patient has no entry in progress", apperr.ErrState)
	ErrNotWaiting       = fmt.Errorf("%w: patient has no waiting entry", apperr.ErrState)
	ErrQueueBusy        = fmt.Errorf("%w: queue is busy, please retry", apperr.ErrConflict)
)

// Manager owns every clinic queue. Each operation is a read-modify-write of
// one clinic's queue under that clinic's lock; clinics never contend.
type Manager struct {
	repo       Repository
	locker     lock.Locker
	clock      clock.Clock
	logger     zerolog.Logger
	defaultAvg int
}

func NewManager(repo Repository, locker lock.Locker, clk clock.Clock, logger zerolog.Logger, defaultAverageWait int) *Manager {
	if defaultAverageWait <= 0 {
		defaultAverageWait = DefaultAverageWaitMinutes
	}
	return &Manager{
		repo:       repo,
		locker:     locker,
		clock:      clk,
		logger:     logger.With().Str("component", "queue").Logger(),
		defaultAvg: defaultAverageWait,
	}
}

func queueLockKey(clinicID uuid.UUID) string {
	return fmt.Sprintf("queue:%s", clinicID)
}

// mutate loads (or lazily creates) the clinic queue, lets fn change a private
// copy and saves it. The stored queue is untouched when fn or Save fails.
func (m *Manager) mutate(ctx context.Context, clinicID uuid.UUID, create bool, fn func(q *Queue, now time.Time) error) (*Queue, error) {
	var saved *Queue
	err := m.locker.WithLock(ctx, queueLockKey(clinicID), func(lockCtx context.Context) error {
		now := m.clock.Now()

		q, err := m.repo.Load(lockCtx, clinicID)
		switch {
		case errors.Is(err, ErrQueueNotFound) && create:
			q = newQueue(clinicID, m.defaultAvg, now)
		case err != nil:
			return err
		default:
			q = q.clone()
		}

		if err := fn(q, now); err != nil {
			return err
		}
		if err := m.repo.Save(lockCtx, q); err != nil {
			return fmt.Errorf("save queue: %w", err)
		}
		saved = q
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: %v", ErrQueueBusy, err)
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Enqueue adds a patient in priority order and returns the new entry.
func (m *Manager) Enqueue(ctx context.Context, clinicID, appointmentID, patientID uuid.UUID, band triage.Band) (Entry, error) {
	var entry Entry
	_, err := m.mutate(ctx, clinicID, true, func(q *Queue, now time.Time) error {
		if q.indexOfAppointment(appointmentID) >= 0 {
			return ErrAlreadyQueued
		}

		rank := band.Rank()
		eta := EstimateMinutes(len(q.Entries), q.AverageWaitMinutes, rank)
		entry = Entry{
			PatientID:          patientID,
			AppointmentID:      appointmentID,
			Band:               band,
			Rank:               rank,
			ETAMinutes:         eta,
			Status:             EntryWaiting,
			QueuedAt:           now,
			EstimatedStartTime: now.Add(time.Duration(eta) * time.Minute),
		}
		q.insert(entry)
		q.LastUpdated = now
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	m.logger.Info().
		Str("clinic_id", clinicID.String()).
		Str("patient_id", patientID.String()).
		Str("band", string(band)).
		Int("eta_minutes", entry.ETAMinutes).
		Msg("patient queued")
	return entry, nil
}

// RefreshEstimates reprices every waiting entry from the current queue state.
// Estimated start times are anchored at the last mutation, so calling it
// repeatedly without a mutation in between changes nothing.
func (m *Manager) RefreshEstimates(ctx context.Context, clinicID uuid.UUID) (*Queue, error) {
	return m.mutate(ctx, clinicID, false, func(q *Queue, _ time.Time) error {
		ahead := 0
		for i := range q.Entries {
			e := &q.Entries[i]
			if e.Status != EntryWaiting {
				continue
			}
			e.ETAMinutes = EstimateMinutes(ahead, q.AverageWaitMinutes, e.Rank)
			e.EstimatedStartTime = q.LastUpdated.Add(time.Duration(e.ETAMinutes) * time.Minute)
			ahead++
		}
		return nil
	})
}

// Position is the patient's 1-based index among all entries in stored order.
func (m *Manager) Position(ctx context.Context, clinicID, patientID uuid.UUID) (int, error) {
	q, err := m.repo.Load(ctx, clinicID)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return 0, ErrPatientNotQueued
		}
		return 0, err
	}
	for i, e := range q.Entries {
		if e.PatientID == patientID {
			return i + 1, nil
		}
	}
	return 0, ErrPatientNotQueued
}

// ProcessNext moves the most urgent, longest waiting entry into progress.
func (m *Manager) ProcessNext(ctx context.Context, clinicID uuid.UUID) (Entry, error) {
	var next Entry
	_, err := m.mutate(ctx, clinicID, false, func(q *Queue, now time.Time) error {
		idx := -1
		for i, e := range q.Entries {
			if e.Status != EntryWaiting {
				continue
			}
			if idx < 0 || e.less(q.Entries[idx]) {
				idx = i
			}
		}
		if idx < 0 {
			return ErrQueueEmpty
		}

		q.Entries[idx].Status = EntryInProgress
		q.CurrentPosition++
		q.LastUpdated = now
		next = q.Entries[idx]
		return nil
	})
	if errors.Is(err, ErrQueueNotFound) {
		return Entry{}, ErrQueueEmpty
	}
	if err != nil {
		return Entry{}, err
	}

	m.logger.Info().
		Str("clinic_id", clinicID.String()).
		Str("patient_id", next.PatientID.String()).
		Msg("processing next patient")
	return next, nil
}

// Complete finishes every in-progress entry of the patient. Each one folds
// its actual wait into the clinic average in ascending QueuedAt order.
func (m *Manager) Complete(ctx context.Context, clinicID, patientID uuid.UUID) ([]Entry, error) {
	var done []Entry
	q, err := m.mutate(ctx, clinicID, false, func(q *Queue, now time.Time) error {
		var idx []int
		present := false
		for i, e := range q.Entries {
			if e.PatientID != patientID {
				continue
			}
			present = true
			if e.Status == EntryInProgress {
				idx = append(idx, i)
			}
		}
		if !present {
			return ErrPatientNotQueued
		}
		if len(idx) == 0 {
			return ErrNotInProgress
		}

		sort.SliceStable(idx, func(a, b int) bool {
			return q.Entries[idx[a]].QueuedAt.Before(q.Entries[idx[b]].QueuedAt)
		})
		for _, i := range idx {
			e := &q.Entries[i]
			actual := int(now.Sub(e.QueuedAt) / time.Minute)
			q.AverageWaitMinutes = int(math.Round(float64(q.AverageWaitMinutes+actual) / 2))
			e.Status = EntryCompleted
			done = append(done, *e)
		}

		q.removeStatus(EntryCompleted)
		q.LastUpdated = now
		return nil
	})
	if errors.Is(err, ErrQueueNotFound) {
		return nil, ErrPatientNotQueued
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("clinic_id", clinicID.String()).
		Str("patient_id", patientID.String()).
		Int("completed", len(done)).
		Int("average_wait_minutes", q.AverageWaitMinutes).
		Msg("patient completed")
	return done, nil
}

// Cancel drops the waiting entry of one appointment. Other entries of the
// same patient are left alone.
func (m *Manager) Cancel(ctx context.Context, clinicID, appointmentID uuid.UUID) (Entry, error) {
	var cancelled Entry
	_, err := m.mutate(ctx, clinicID, false, func(q *Queue, now time.Time) error {
		i := q.indexOfAppointment(appointmentID)
		if i < 0 {
			return ErrPatientNotQueued
		}
		if q.Entries[i].Status != EntryWaiting {
			return ErrNotWaiting
		}
		q.Entries[i].Status = EntryCancelled
		cancelled = q.Entries[i]
		q.removeStatus(EntryCancelled)
		q.LastUpdated = now
		return nil
	})
	if errors.Is(err, ErrQueueNotFound) {
		return Entry{}, ErrPatientNotQueued
	}
	if err != nil {
		return Entry{}, err
	}
	return cancelled, nil
}

// IsQueued reports whether the appointment holds an entry in the clinic queue.
func (m *Manager) IsQueued(ctx context.Context, clinicID, appointmentID uuid.UUID) (bool, error) {
	q, err := m.repo.Load(ctx, clinicID)
	if errors.Is(err, ErrQueueNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return q.indexOfAppointment(appointmentID) >= 0, nil
}

// Snapshot returns a copy of the clinic queue, or an empty queue when the
// clinic has none yet.
func (m *Manager) Snapshot(ctx context.Context, clinicID uuid.UUID) (*Queue, error) {
	q, err := m.repo.Load(ctx, clinicID)
	if errors.Is(err, ErrQueueNotFound) {
		return newQueue(clinicID, m.defaultAvg, m.clock.Now()), nil
	}
	if err != nil {
		return nil, err
	}
	return q.clone(), nil
}

func (q *Queue) removeStatus(s EntryStatus) {
	kept := q.Entries[:0]
	for _, e := range q.Entries {
		if e.Status != s {
			kept = append(kept, e)
		}
	}
	q.Entries = kept
	q.TotalWaiting = len(q.Entries)
}
