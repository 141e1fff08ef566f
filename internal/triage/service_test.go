package triage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/apperr"
	"github.com/hackgods/clinic-flow/internal/clock"
)

func TestService_SubmitPersistsAssessment(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(now)
	repo := NewMemoryRepository()
	svc := NewService(repo, clk, zerolog.Nop())

	apptID, patientID := uuid.New(), uuid.New()
	a, err := svc.Submit(context.Background(), apptID, patientID, Vitals{SpO2: i(91), PainScore: i(7)}, "nurse.ade")
	require.NoError(t, err)

	assert.Equal(t, 5, a.CalculatedScore)
	assert.Equal(t, BandHigh, a.Band)
	assert.Equal(t, now, a.AssessedAt)
	assert.Equal(t, "nurse.ade", a.AssessedBy)

	clk.Advance(10 * time.Minute)
	_, err = svc.Submit(context.Background(), apptID, patientID, Vitals{SpO2: i(97)}, "nurse.ade")
	require.NoError(t, err)

	latest, err := svc.Latest(context.Background(), apptID)
	require.NoError(t, err)
	assert.Equal(t, BandLow, latest.Band)

	history, err := svc.History(context.Background(), patientID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, BandLow, history[0].Band)
}

func TestService_SubmitRejectsInvalidInput(t *testing.T) {
	svc := NewService(NewMemoryRepository(), clock.Real(), zerolog.Nop())

	_, err := svc.Submit(context.Background(), uuid.Nil, uuid.New(), Vitals{}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Submit(context.Background(), uuid.New(), uuid.New(), Vitals{SpO2: i(120)}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestService_LatestNotFound(t *testing.T) {
	svc := NewService(NewMemoryRepository(), clock.Real(), zerolog.Nop())
	_, err := svc.Latest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_HistoryDefaultsLimit(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	svc := NewService(NewMemoryRepository(), clk, zerolog.Nop())
	patientID := uuid.New()

	for range 25 {
		_, err := svc.Submit(context.Background(), uuid.New(), patientID, Vitals{PainScore: i(1)}, "")
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	history, err := svc.History(context.Background(), patientID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 20)
	assert.True(t, history[0].AssessedAt.After(history[19].AssessedAt))
}
