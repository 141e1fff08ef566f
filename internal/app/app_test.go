package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/config"
)

func TestBuild_MemoryBackend(t *testing.T) {
	cfg := config.Config{
		StoreBackend:       config.BackendMemory,
		LockBackend:        config.LockLocal,
		NotifyBackend:      config.NotifyLog,
		DefaultAverageWait: 15,
	}

	a, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.PgPool)
	assert.Nil(t, a.Redis)
	require.NotNil(t, a.Memory)

	clinics, providers := SeedMemory(a.Memory, 2, 3)
	require.Len(t, clinics, 2)
	require.Len(t, providers, 3)

	// next Monday 10:00 is inside the fake opening hours
	now := time.Now().UTC()
	monday := now.AddDate(0, 0, (8-int(now.Weekday()))%7+7)
	start := time.Date(monday.Year(), monday.Month(), monday.Day(), 10, 0, 0, 0, time.UTC)

	appt, err := a.Workflow.Book(context.Background(), appointment.BookingRequest{
		PatientID:  uuid.New(),
		ClinicID:   clinics[0].ID,
		ProviderID: &providers[1].ID,
		Start:      start,
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, appt.Status)
}
