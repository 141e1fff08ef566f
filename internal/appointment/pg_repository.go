package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-flow/internal/apperr"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, number, patient_id, clinic_id, provider_id, start_time, end_time, duration_minutes,
	status, check_in_time, notes, reminder_sent_at, created_at, updated_at`

// Helpers

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var hours []byte

	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.Name,
		&c.Active,
		&c.Location,
		&c.BlackoutDates,
		&hours,
		&c.SlotDurationMinutes,
		&c.OverbookingThreshold,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &c.Hours); err != nil {
			return nil, fmt.Errorf("decode hours for clinic %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.Number,
		&a.PatientID,
		&a.ClinicID,
		&a.ProviderID,
		&a.Start,
		&a.End,
		&a.DurationMinutes,
		&a.Status,
		&a.CheckInTime,
		&notes,
		&a.ReminderSentAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if notes != nil {
		a.Notes = *notes
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Directory

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, name, active, location, blackout_dates, hours,
		       slot_duration_minutes, overbooking_threshold, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

// CreateClinic and CreateProvider are used by the seed tool.
func (r *PgRepository) CreateClinic(ctx context.Context, c *Clinic) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	hours, err := json.Marshal(c.Hours)
	if err != nil {
		return fmt.Errorf("encode hours: %w", err)
	}
	if c.BlackoutDates == nil {
		c.BlackoutDates = []time.Time{}
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO clinics (id, code, name, active, location, blackout_dates, hours,
		                     slot_duration_minutes, overbooking_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, c.ID, c.Code, c.Name, c.Active, c.Location, c.BlackoutDates, hours, c.SlotDurationMinutes, c.OverbookingThreshold)
	if err != nil {
		return fmt.Errorf("insert clinic: %w", translate(err))
	}
	return nil
}

func (r *PgRepository) CreateProvider(ctx context.Context, p *Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, name, active, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, p.ID, p.Name, p.Active)
	if err != nil {
		return fmt.Errorf("insert provider: %w", translate(err))
	}
	return nil
}

// Repository

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CountOccupyingForClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time, excludeID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE clinic_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		  AND id <> $4
		  AND status NOT IN ('CANCELLED', 'NO_SHOW')
	`, clinicID, from, to, excludeID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) ListOccupyingForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND start_time < $3
		  AND end_time > $2
		  AND id <> $4
		  AND status NOT IN ('CANCELLED', 'NO_SHOW')
		ORDER BY start_time
	`, providerID, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) NextSequence(ctx context.Context, day time.Time) (int64, error) {
	var v int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_sequences (day, value)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET value = appointment_sequences.value + 1
		RETURNING value
	`, day.Format("2006-01-02")).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, number, patient_id, clinic_id, provider_id, start_time, end_time,
		                          duration_minutes, status, check_in_time, notes, reminder_sent_at,
		                          created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.Number, a.PatientID, a.ClinicID, a.ProviderID, a.Start, a.End,
		a.DurationMinutes, a.Status, a.CheckInTime, a.Notes, a.ReminderSentAt)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, translate(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET provider_id = $2,
		    start_time = $3,
		    end_time = $4,
		    duration_minutes = $5,
		    status = $6,
		    check_in_time = $7,
		    notes = $8,
		    reminder_sent_at = $9,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, a.ProviderID, a.Start, a.End, a.DurationMinutes, a.Status, a.CheckInTime, a.Notes, a.ReminderSentAt)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindDueForReminder(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED'
		  AND reminder_sent_at IS NULL
		  AND start_time >= $1
		  AND start_time < $2
		ORDER BY start_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// translate maps unique violations onto apperr.ErrConflict.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", apperr.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
