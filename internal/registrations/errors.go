package registrations

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDeadlineExceeded = errors.New("registration deadline has passed")
	ErrCapacityExceeded = errors.New("event is fully booked")
	// ErrAlreadyRegistered is a soft outcome: the existing registration is returned with it.
	ErrAlreadyRegistered = errors.New("already registered for this event")
	// ErrFinalizationFailed means payment succeeded but the registration could not be
	// marked paid and no completed registration exists. Support must reconcile manually.
	ErrFinalizationFailed = errors.New("payment successful, registration failed")
)

// ValidationError reports a missing or malformed registrant field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
