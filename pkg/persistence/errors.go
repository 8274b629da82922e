// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found by the given identifier.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrLeaseHeld indicates another owner holds a live lease on the enrollment.
	ErrLeaseHeld = errors.New("enrollment lease held by another owner")
)

// EnrollmentError wraps enrollment-related errors with additional context.
type EnrollmentError struct {
	Op           string // Operation being performed
	EnrollmentID string // Enrollment ID
	Err          error  // Underlying error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{
		Op:           op,
		EnrollmentID: enrollmentID,
		Err:          err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsLeaseHeld checks if an error indicates a lease conflict.
func IsLeaseHeld(err error) bool {
	return errors.Is(err, ErrLeaseHeld)
}
