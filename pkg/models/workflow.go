// Package models defines the core domain model: workflow graphs, steps, enrollments.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never enrolls
	WorkflowStatusActive   WorkflowStatus = "active"   // Enrolls and executes
	WorkflowStatusPaused   WorkflowStatus = "paused"   // No new enrollments, existing continue
	WorkflowStatusArchived WorkflowStatus = "archived" // Terminal
)

// WorkflowSettings carries per-workflow execution policy.
type WorkflowSettings struct {
	// AllowReenrollment permits enrolling a record that is already actively
	// enrolled in this workflow.
	AllowReenrollment bool `json:"allow_reenrollment"`

	// MaxAttempts is the retry ceiling for transient step failures.
	// Zero means the engine default.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// BackoffSeconds is the base of the exponential retry backoff.
	// Zero means the engine default.
	BackoffSeconds int `json:"backoff_seconds,omitempty"`
}

// Workflow is a directed graph of steps, immutable once activated.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"                   validate:"required,min=3"`
	Description string           `json:"description,omitempty"`
	Status      WorkflowStatus   `json:"status"                 validate:"required"`
	Steps       []*Step          `json:"steps"`
	Settings    WorkflowSettings `json:"settings"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ActivatedAt *time.Time       `json:"activated_at,omitempty"`
	ArchivedAt  *time.Time       `json:"archived_at,omitempty"`
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for _, step := range w.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// TriggerStep returns the workflow's trigger step, or nil when absent.
func (w *Workflow) TriggerStep() *Step {
	for _, step := range w.Steps {
		if step.Type == StepTypeTrigger {
			return step
		}
	}

	return nil
}

// IsEnrollable reports whether new enrollments may be created.
func (w *Workflow) IsEnrollable() bool {
	return w.Status == WorkflowStatusActive
}
