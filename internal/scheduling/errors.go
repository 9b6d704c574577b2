package scheduling

import (
	"errors"
	"fmt"
)

// ErrTooManyInstances is returned when a recurrence would expand past the
// engine's instance limit.
var ErrTooManyInstances = errors.New("scheduling: recurrence expands to too many instances")

// ValidationError reports a malformed input field. It is raised for
// unparsable dates and times; business-rule collisions are never errors.
type ValidationError struct {
	Field     string
	Value     string
	Reason    string
	BookingID string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	if e.BookingID != "" {
		return "booking " + e.BookingID + ": " + msg
	}
	return msg
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

func invalid(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

func withBooking(err error, id string) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) && vErr.BookingID == "" {
		cp := *vErr
		cp.BookingID = id
		return &cp
	}
	return err
}
