package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].Version)
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}

	core := migrations[0].SQL
	for _, table := range []string{"clinics", "providers", "appointments", "appointment_sequences", "event_logs", "triage_assessments", "visit_queues"} {
		assert.Contains(t, core, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
