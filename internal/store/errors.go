package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session (or source-scoped lookup) has no
// matching row.
var ErrNotFound = errors.New("not found")

// ValidationError reports bad caller input. It is never retried by the
// scheduler and maps to a 400 at the HTTP boundary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
