// README: Validation error taxonomy shared by the session machine and the HTTP layer.
package validate

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDateRange = errors.New("invalid date range")
	ErrInvalidTime      = errors.New("invalid time")
	ErrOutOfServiceArea = errors.New("location outside service area")
	ErrMalformedMessage = errors.New("malformed message")
)

// ValidationError is a locally rejected input. The session it targeted is left unchanged.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...), Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
