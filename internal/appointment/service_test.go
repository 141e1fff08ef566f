package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/apperr"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/lock"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	clock    *clock.Manual
	clinic   Clinic
	provider Provider
}

func newFixture(t *testing.T, threshold int) *fixture {
	t.Helper()
	repo := NewMemoryRepository()
	clinic := Clinic{
		ID:                   uuid.New(),
		Code:                 "CL-001",
		Name:                 "Eastside Clinic",
		Active:               true,
		SlotDurationMinutes:  30,
		OverbookingThreshold: threshold,
	}
	provider := Provider{ID: uuid.New(), Name: "Dr. Okafor", Active: true}
	repo.PutClinic(clinic)
	repo.PutProvider(provider)

	clk := clock.NewManual(monday.Add(7 * time.Hour))
	return &fixture{
		svc:      NewService(repo, repo, lock.NewLocal(), clk, zerolog.Nop()),
		repo:     repo,
		clock:    clk,
		clinic:   clinic,
		provider: provider,
	}
}

func (f *fixture) request(start time.Time, withProvider bool) BookingRequest {
	req := BookingRequest{
		PatientID: uuid.New(),
		ClinicID:  f.clinic.ID,
		Start:     start,
	}
	if withProvider {
		id := f.provider.ID
		req.ProviderID = &id
	}
	return req
}

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestBook_DefaultsDurationAndNumbers(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.request(at(9, 0), true))
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, 30, a.DurationMinutes)
	assert.Equal(t, at(9, 30), a.End)
	assert.Equal(t, "APT-20260302-0001", a.Number)

	b, err := f.svc.Book(ctx, f.request(at(10, 0), false))
	require.NoError(t, err)
	assert.Equal(t, "APT-20260302-0002", b.Number)

	events := f.repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
}

func TestBook_ProviderOverlap(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.request(at(9, 0), true))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.request(at(9, 15), true))
	assert.ErrorIs(t, err, ErrProviderAlreadyBooked)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// back-to-back is fine, intervals are half-open
	_, err = f.svc.Book(ctx, f.request(at(9, 30), true))
	assert.NoError(t, err)
}

func TestBook_OverbookingThresholdIgnoresProvider(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.request(at(9, 0), false))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.request(at(14, 0), true))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.request(at(16, 0), false))
	assert.ErrorIs(t, err, ErrOverbookingExceeded)

	// another day has its own count
	_, err = f.svc.Book(ctx, f.request(at(9, 0).AddDate(0, 0, 1), false))
	assert.NoError(t, err)
}

func TestBook_CancelledDoesNotOccupy(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.request(at(9, 0), true))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.request(at(9, 0), true))
	require.ErrorIs(t, err, apperr.ErrConflict)

	cancelled, err := f.svc.Cancel(ctx, a.ID, "patient travelling")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Contains(t, cancelled.Notes, "patient travelling")

	_, err = f.svc.Book(ctx, f.request(at(9, 0), true))
	assert.NoError(t, err)
}

func TestBook_ValidationOrder(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookingRequest{ClinicID: f.clinic.ID, Start: at(9, 0)})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req := f.request(at(9, 0), false)
	req.ClinicID = uuid.New()
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrClinicNotFound)

	inactive := f.clinic
	inactive.ID = uuid.New()
	inactive.Active = false
	f.repo.PutClinic(inactive)
	req = f.request(at(9, 0), false)
	req.ClinicID = inactive.ID
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrClinicInactive)

	missing := uuid.New()
	req = f.request(at(9, 0), false)
	req.ProviderID = &missing
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrProviderNotFound)

	off := Provider{ID: uuid.New(), Name: "Dr. Away", Active: false}
	f.repo.PutProvider(off)
	req = f.request(at(9, 0), false)
	req.ProviderID = &off.ID
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrProviderInactive)
}

func TestBook_BlackoutBeforeProvider(t *testing.T) {
	f := newFixture(t, 2)
	f.clinic.BlackoutDates = []time.Time{monday}
	f.repo.PutClinic(f.clinic)

	missing := uuid.New()
	req := f.request(at(9, 0), false)
	req.ProviderID = &missing

	_, err := f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrClinicClosed)
}

func TestBook_OperatingHours(t *testing.T) {
	f := newFixture(t, 5)
	f.clinic.Hours = []OperatingHours{{Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 17 * 60}}
	f.repo.PutClinic(f.clinic)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.request(at(7, 30), false))
	assert.ErrorIs(t, err, ErrClinicClosed)

	_, err = f.svc.Book(ctx, f.request(at(16, 45), false))
	assert.ErrorIs(t, err, ErrClinicClosed)

	_, err = f.svc.Book(ctx, f.request(at(16, 30), false))
	assert.NoError(t, err)

	// no hours configured for Tuesday
	_, err = f.svc.Book(ctx, f.request(at(20, 0).AddDate(0, 0, 1), false))
	assert.NoError(t, err)
}

func TestBook_ConcurrentSameSlotExactlyOneWins(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(ctx, f.request(at(11, 0), true))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestBook_ConcurrentNumbersAreUnique(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	numbers := make(chan string, 40)
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.svc.Book(ctx, f.request(at(12, 0), false))
			if assert.NoError(t, err) {
				numbers <- a.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, 40)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.request(at(9, 0), true))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.request(at(10, 0), true))
	require.NoError(t, err)

	// overlapping itself is not a conflict
	moved, err := f.svc.Reschedule(ctx, a.ID, at(9, 15))
	require.NoError(t, err)
	assert.Equal(t, at(9, 45), moved.End)
	assert.Equal(t, a.Number, moved.Number)

	_, err = f.svc.Reschedule(ctx, a.ID, at(10, 15))
	assert.ErrorIs(t, err, ErrProviderAlreadyBooked)

	_, err = f.svc.CheckIn(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, a.ID, at(13, 0))
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.request(at(9, 0), false))
	require.NoError(t, err)

	checked, err := f.svc.CheckIn(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, checked.Status)
	require.NotNil(t, checked.CheckInTime)
	assert.Equal(t, f.clock.Now(), *checked.CheckInTime)

	_, err = f.svc.CheckIn(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.ErrState)

	_, err = f.svc.Start(ctx, a.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, a.ID, "")
	assert.ErrorIs(t, err, apperr.ErrState)
	_, err = f.svc.MarkNoShow(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.ErrState)

	done, err := f.svc.Complete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.svc.CheckIn(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReminders(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	soon, err := f.svc.Book(ctx, f.request(at(9, 0), false))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.request(at(9, 0).AddDate(0, 0, 3), false))
	require.NoError(t, err)

	due, err := f.svc.DueForReminder(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, soon.ID, due[0].ID)

	require.NoError(t, f.svc.MarkReminderSent(ctx, soon.ID))
	due, err = f.svc.DueForReminder(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListByClinicDay(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.request(at(15, 0), false))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.request(at(9, 0), false))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.request(at(9, 0).AddDate(0, 0, 1), false))
	require.NoError(t, err)

	list, err := f.svc.ListByClinicDay(ctx, f.clinic.ID, at(12, 0))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, at(9, 0), list[0].Start)
}

// hookRepo runs afterGet once, right after the next appointment read.
type hookRepo struct {
	*MemoryRepository
	mu       sync.Mutex
	afterGet func()
}

func (r *hookRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.MemoryRepository.GetAppointmentByID(ctx, id)
	r.mu.Lock()
	hook := r.afterGet
	r.afterGet = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return a, err
}

func TestMarkReminderSent_DoesNotOverwriteConcurrentCancel(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.request(at(9, 0), false))
	require.NoError(t, err)

	repo := &hookRepo{MemoryRepository: f.repo}
	svc := NewService(repo, f.repo, lock.NewLocal(), f.clock, zerolog.Nop())

	cancelled := make(chan error, 1)
	repo.afterGet = func() {
		go func() {
			_, err := svc.Cancel(ctx, a.ID, "travelling")
			cancelled <- err
		}()
		select {
		case err := <-cancelled:
			cancelled <- err
		case <-time.After(50 * time.Millisecond):
		}
	}

	require.NoError(t, svc.MarkReminderSent(ctx, a.ID))
	require.NoError(t, <-cancelled)

	got, err := f.repo.GetAppointmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestMarkReminderSent_OnlyScheduled(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.request(at(9, 0), false))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, a.ID, "")
	require.NoError(t, err)

	err = f.svc.MarkReminderSent(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.ErrState)

	got, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.ReminderSentAt)
}

func TestReschedule_KeepsConcurrentEditsAndClearsReminder(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.request(at(9, 0), false))
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkReminderSent(ctx, a.ID))

	repo := &hookRepo{MemoryRepository: f.repo}
	svc := NewService(repo, f.repo, lock.NewLocal(), f.clock, zerolog.Nop())

	// lands between the unlocked read and the locked write
	repo.afterGet = func() {
		stored, err := f.repo.GetAppointmentByID(ctx, a.ID)
		require.NoError(t, err)
		stored.Notes = "wheelchair access"
		_, err = f.repo.UpdateAppointment(ctx, stored)
		require.NoError(t, err)
	}

	moved, err := svc.Reschedule(ctx, a.ID, at(11, 0))
	require.NoError(t, err)
	assert.Equal(t, "wheelchair access", moved.Notes)
	assert.Equal(t, at(11, 30), moved.End)
	assert.Nil(t, moved.ReminderSentAt)

	due, err := svc.DueForReminder(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)
}
