// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/workflow"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"                  validate:"required,min=3"`
	Description string                  `json:"description,omitempty"`
	Steps       []*models.Step          `json:"steps,omitempty"`
	Settings    models.WorkflowSettings `json:"settings"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating a draft
// workflow. All fields are optional to support partial updates; a nil Steps
// keeps the stored graph.
type UpdateWorkflowRequest struct {
	Name        *string                  `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                  `json:"description,omitempty"`
	Steps       []*models.Step           `json:"steps,omitempty"`
	Settings    *models.WorkflowSettings `json:"settings,omitempty"`
	Metadata    map[string]any           `json:"metadata,omitempty"`
}

// RetargetDelayRequest replaces one delay step's configuration.
type RetargetDelayRequest struct {
	Kind    string `json:"kind"              validate:"omitempty,oneof=duration until at weekday"`
	Seconds int    `json:"seconds,omitempty" validate:"omitempty,min=0"`
	Until   string `json:"until,omitempty"`
	At      string `json:"at,omitempty"`
	Weekday string `json:"weekday,omitempty"`
}

// EntityRequest identifies the business record to act on.
type EntityRequest struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id"   validate:"required"`
}

func (e EntityRequest) ref() models.EntityRef {
	return models.EntityRef{Type: e.Type, ID: e.ID}
}

// EnrollRequest represents the request body for a manual enrollment.
type EnrollRequest struct {
	Entity    EntityRequest  `json:"entity"              validate:"required"`
	Variables map[string]any `json:"variables,omitempty"`
}

// BulkEnrollRequest represents the request body for enrolling many entities
// at once. Shared variables seed every created enrollment.
type BulkEnrollRequest struct {
	Entities  []EntityRequest `json:"entities"            validate:"required,min=1,max=1000,dive"`
	Variables map[string]any  `json:"variables,omitempty"`
}

// CancelEnrollmentRequest represents the optional request body for canceling
// an enrollment.
type CancelEnrollmentRequest struct {
	CanceledBy string `json:"canceled_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// SimulateRequest represents the request body for simulating a workflow.
// DryRun defaults to true: simulations touch nothing outside the engine
// unless a caller explicitly opts into real executors.
type SimulateRequest struct {
	Entity      EntityRequest  `json:"entity"              validate:"required"`
	Variables   map[string]any `json:"variables,omitempty"`
	DryRun      *bool          `json:"dry_run,omitempty"`
	FastForward bool           `json:"fast_forward"`
}

// ValidationResponse reports the outcome of graph validation.
type ValidationResponse struct {
	Valid  bool             `json:"valid"`
	Issues []workflow.Issue `json:"issues"`
}
