package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const assessmentColumns = `id, appointment_id, patient_id, vitals, calculated_score, priority_band, assessed_by, assessed_at`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	var vitals []byte

	err := row.Scan(
		&a.ID,
		&a.AppointmentID,
		&a.PatientID,
		&vitals,
		&a.CalculatedScore,
		&a.Band,
		&a.AssessedBy,
		&a.AssessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(vitals, &a.Vitals); err != nil {
		return nil, fmt.Errorf("decode vitals for assessment %s: %w", a.ID, err)
	}
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Assessment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	vitals, err := json.Marshal(a.Vitals)
	if err != nil {
		return fmt.Errorf("encode vitals: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO triage_assessments (`+assessmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.AppointmentID, a.PatientID, vitals, a.CalculatedScore, a.Band, a.AssessedBy, a.AssessedAt)
	if err != nil {
		return fmt.Errorf("insert triage assessment: %w", err)
	}
	return nil
}

func (r *PgRepository) LatestForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Assessment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+assessmentColumns+`
		FROM triage_assessments
		WHERE appointment_id = $1
		ORDER BY assessed_at DESC
		LIMIT 1
	`, appointmentID)
	return scanAssessment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]Assessment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+assessmentColumns+`
		FROM triage_assessments
		WHERE patient_id = $1
		ORDER BY assessed_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
