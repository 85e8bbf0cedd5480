// Package apperr defines the error kinds the availability engine reports to
// its callers. Everything that is not one of these kinds is an infrastructure
// failure and safe to retry.
package apperr

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason == "" {
		return "conflict"
	}
	return e.Reason
}

// DegradedAvailabilityError means the owner's busy picture could not be
// assembled, so slots must not be offered.
type DegradedAvailabilityError struct {
	OwnerID string
	Source  string
	Err     error
}

func (e *DegradedAvailabilityError) Error() string {
	msg := fmt.Sprintf("availability degraded for owner %s", e.OwnerID)
	if e.Source != "" {
		msg += " (source " + e.Source + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DegradedAvailabilityError) Unwrap() error { return e.Err }

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// ErrSlotUnavailable is the reason reported when a requested slot is gone.
const ErrSlotUnavailable = "slot no longer available"

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsDegraded(err error) bool {
	var target *DegradedAvailabilityError
	return errors.As(err, &target)
}
