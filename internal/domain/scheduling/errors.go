package scheduling

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by the scheduling core. Everything except
// ErrStorageUnavailable is an expected outcome the caller branches on.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrConflict           = errors.New("slot is already being processed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// SchedulingConflictError carries the existing appointment that blocks a
// booking so the caller can name it to the patient.
type SchedulingConflictError struct {
	Appointment Appointment
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("scheduling conflict with the session on %s at %s",
		e.Appointment.Date.Format(DateLayout), e.Appointment.Time)
}

func (e *SchedulingConflictError) Unwrap() error { return ErrSchedulingConflict }

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// storageError classifies an error coming out of the driver. Business
// errors pass through untouched; anything else becomes ErrStorageUnavailable.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBusinessError(err) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func isBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrSchedulingConflict) ||
		errors.Is(err, ErrConflict)
}

// ErrorKind names the taxonomy bucket of err, used for metrics labels and
// HTTP error codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrSchedulingConflict):
		return "scheduling_conflict"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "storage_unavailable"
	}
}
