package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task id is unknown.
	ErrNotFound = errors.New("task not found")

	// ErrTaskExists is returned when adding a task whose id is taken.
	ErrTaskExists = errors.New("task already exists")

	// ErrInvalidTransition is returned when an operation is not valid
	// for the task's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoExecutor is returned when no executor is registered for a
	// task type. Always fatal, never retried.
	ErrNoExecutor = errors.New("no executor registered for task type")

	// ErrFallbackFailed wraps an error thrown by a configured fallback.
	ErrFallbackFailed = errors.New("fallback failed")

	// ErrScheduleNotFound is returned when a schedule id is unknown.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// InvalidTransition builds an ErrInvalidTransition describing the
// rejected move.
func InvalidTransition(id string, from, to Status) error {
	return fmt.Errorf("%w: task %s cannot go from %s to %s", ErrInvalidTransition, id, from, to)
}
