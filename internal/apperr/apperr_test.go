package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	clinicMissing := fmt.Errorf("clinic %w", ErrNotFound)
	wrapped := fmt.Errorf("book appointment: %w", clinicMissing)

	assert.Equal(t, ErrNotFound, Kind(wrapped))
	assert.Equal(t, ErrConflict, Kind(fmt.Errorf("%w: provider already booked", ErrConflict)))
	assert.Nil(t, Kind(errors.New("boom")))
	assert.Nil(t, Kind(nil))
}
