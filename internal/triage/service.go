package triage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-flow/internal/apperr"
	"github.com/hackgods/clinic-flow/internal/clock"
)

type Service struct {
	repo   Repository
	clock  clock.Clock
	logger zerolog.Logger
}

func NewService(repo Repository, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		clock:  clk,
		logger: logger.With().Str("component", "triage").Logger(),
	}
}

// Submit scores the vitals and stores the resulting assessment.
func (s *Service) Submit(ctx context.Context, appointmentID, patientID uuid.UUID, vitals Vitals, assessedBy string) (*Assessment, error) {
	if appointmentID == uuid.Nil {
		return nil, fmt.Errorf("%w: appointment_id is required", apperr.ErrValidation)
	}
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", apperr.ErrValidation)
	}

	score, band, err := Score(vitals)
	if err != nil {
		return nil, err
	}

	a := &Assessment{
		ID:              uuid.New(),
		AppointmentID:   appointmentID,
		PatientID:       patientID,
		Vitals:          vitals,
		CalculatedScore: score,
		Band:            band,
		AssessedBy:      assessedBy,
		AssessedAt:      s.clock.Now(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("save triage assessment: %w", err)
	}

	s.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Int("score", score).
		Str("band", string(band)).
		Msg("triage scored")

	return a, nil
}

func (s *Service) Latest(ctx context.Context, appointmentID uuid.UUID) (*Assessment, error) {
	a, err := s.repo.LatestForAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("latest triage: %w", err)
	}
	return a, nil
}

// History returns the patient's assessments, newest first. limit defaults to
// 20 and is capped at 100.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, limit int) ([]Assessment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	list, err := s.repo.ListByPatient(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("triage history: %w", err)
	}
	return list, nil
}
