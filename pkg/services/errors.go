// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidStatus        = errors.New("invalid status filter")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrStepsRequired        = errors.New("workflow must have at least one step")
	ErrInvalidGraph         = errors.New("workflow graph is invalid")
	ErrEntityRequired       = errors.New("entity type and id are required")
	ErrNotDelayStep         = errors.New("step is not a delay step")
	ErrInvalidDelayConfig   = errors.New("invalid delay configuration")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowNotDraft       = errors.New("workflow is not editable once activated")
	ErrWorkflowNotActivatable = errors.New("workflow cannot be activated from its current status")
	ErrWorkflowNotPausable    = errors.New("only active workflows can be paused")
	ErrWorkflowArchived       = errors.New("workflow is archived")
	ErrWorkflowNotEnrollable  = errors.New("workflow is not accepting enrollments")
	ErrWorkflowInUse          = errors.New("workflow still accepts or runs enrollments")
	ErrAlreadyEnrolled        = errors.New("entity already has a live enrollment in this workflow")
	ErrEnrollmentTerminal     = errors.New("enrollment already reached a terminal status")
	ErrEnrollmentNotFailed    = errors.New("only failed enrollments can be retried")
	ErrEnrollmentNotWaiting   = errors.New("only waiting enrollments can be resumed")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrStepsRequired) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrEntityRequired) ||
		errors.Is(err, ErrNotDelayStep) ||
		errors.Is(err, ErrInvalidDelayConfig)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowNotDraft) ||
		errors.Is(err, ErrWorkflowNotActivatable) ||
		errors.Is(err, ErrWorkflowNotPausable) ||
		errors.Is(err, ErrWorkflowArchived) ||
		errors.Is(err, ErrWorkflowNotEnrollable) ||
		errors.Is(err, ErrWorkflowInUse) ||
		errors.Is(err, ErrAlreadyEnrolled) ||
		errors.Is(err, ErrEnrollmentTerminal) ||
		errors.Is(err, ErrEnrollmentNotFailed) ||
		errors.Is(err, ErrEnrollmentNotWaiting)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
