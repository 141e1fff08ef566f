// Package apperr holds the error kinds shared by every domain package.
// Domain errors wrap one of these so callers can branch with errors.Is
// without knowing which package produced the failure.
package apperr

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrState      = errors.New("invalid state transition")
)

// Kind returns the sentinel kind wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrValidation, ErrConflict, ErrState} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
