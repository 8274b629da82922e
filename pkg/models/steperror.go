package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies step failures and drives retry policy.
type ErrorKind string

const (
	// ErrorKindConfiguration marks errors that can never succeed on retry:
	// invalid graph, missing required field, unresolved placeholder, unknown
	// operator, loop ceiling exceeded.
	ErrorKindConfiguration ErrorKind = "configuration"

	// ErrorKindTransient marks failures expected to potentially succeed on
	// retry: timeouts, upstream unavailability, rate limits.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindPermanent marks business failures that retrying cannot fix,
	// such as the target record no longer existing.
	ErrorKindPermanent ErrorKind = "permanent"
)

// StepError is the engine's error taxonomy carrier. It is persisted on the
// enrollment as the last error of a terminal failure.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	StepID  string    `json:"step_id,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *StepError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("step %s: %s: %s", e.StepID, e.Kind, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a non-retryable configuration error.
func NewConfigurationError(stepID, message string, err error) *StepError {
	return &StepError{Kind: ErrorKindConfiguration, StepID: stepID, Message: message, Err: err}
}

// NewTransientError creates a retryable error.
func NewTransientError(stepID, message string, err error) *StepError {
	return &StepError{Kind: ErrorKindTransient, StepID: stepID, Message: message, Err: err}
}

// NewPermanentError creates a non-retryable business error.
func NewPermanentError(stepID, message string, err error) *StepError {
	return &StepError{Kind: ErrorKindPermanent, StepID: stepID, Message: message, Err: err}
}

// AsStepError normalizes any error into a StepError attributed to a step.
// Errors without an explicit kind default to transient so external failures
// get the retry policy rather than an immediate terminal failure.
func AsStepError(err error, stepID string) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		if stepErr.StepID == "" {
			stepErr.StepID = stepID
		}

		return stepErr
	}

	return NewTransientError(stepID, err.Error(), err)
}

// Classify returns the error kind, defaulting to transient.
func Classify(err error) ErrorKind {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind
	}

	return ErrorKindTransient
}

// IsConfigurationError reports whether the error is non-retryable configuration.
func IsConfigurationError(err error) bool {
	return Classify(err) == ErrorKindConfiguration
}

// IsTransientError reports whether the error is eligible for retry.
func IsTransientError(err error) bool {
	return Classify(err) == ErrorKindTransient
}

// IsPermanentError reports whether the error is a non-retryable business failure.
func IsPermanentError(err error) bool {
	return Classify(err) == ErrorKindPermanent
}
