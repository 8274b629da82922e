// Package testutil provides test data builders shared by package tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
)

// CreateTestStep creates a log action step with default values that can be
// overridden.
func CreateTestStep(overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:   uuid.New().String(),
		Name: "Test Step",
		Type: models.StepTypeAction,
		Config: map[string]any{
			"action_type": "log",
			"params":      map[string]any{"message": "test"},
		},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithStepID sets the step id.
func WithStepID(id string) func(*models.Step) {
	return func(s *models.Step) {
		s.ID = id
	}
}

// WithStepType sets the step type.
func WithStepType(stepType models.StepType) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = stepType
	}
}

// WithStepConfig sets the step configuration.
func WithStepConfig(config map[string]any) func(*models.Step) {
	return func(s *models.Step) {
		s.Config = config
	}
}

// WithEdges sets the step's outgoing edges.
func WithEdges(edges ...models.Edge) func(*models.Step) {
	return func(s *models.Step) {
		s.Edges = edges
	}
}

// WithTriggerStep configures the step as a contact.created trigger.
func WithTriggerStep() func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeTrigger
		s.Config = map[string]any{
			"event_type":  "contact.created",
			"entity_type": "contact",
		}
	}
}

// CreateTestWorkflow creates a draft workflow whose trigger leads into a
// single log action.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Status:      models.WorkflowStatusDraft,
		Steps: []*models.Step{
			CreateTestStep(
				WithStepID("trigger-1"),
				WithTriggerStep(),
				WithEdges(models.Edge{Branch: models.BranchNext, To: "action-1"}),
			),
			CreateTestStep(WithStepID("action-1")),
		},
		Metadata:  map[string]any{"category": "test"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithWorkflowID sets the workflow id.
func WithWorkflowID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithWorkflowStatus sets the workflow status. Activating this way skips
// graph validation; tests that need the full lifecycle go through the
// workflow service instead.
func WithWorkflowStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status

		if status == models.WorkflowStatusActive && w.ActivatedAt == nil {
			now := time.Now().UTC()
			w.ActivatedAt = &now
		}
	}
}

// WithSteps replaces the workflow's steps.
func WithSteps(steps ...*models.Step) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Steps = steps
	}
}

// WithSettings sets the workflow settings.
func WithSettings(settings models.WorkflowSettings) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Settings = settings
	}
}

// CreateTestEnrollment creates an active enrollment of a contact in the
// given workflow.
func CreateTestEnrollment(workflowID string, overrides ...func(*models.Enrollment)) *models.Enrollment {
	enrollment := models.NewEnrollment(workflowID, models.EntityRef{Type: "contact", ID: "c-1"})

	for _, override := range overrides {
		override(enrollment)
	}

	return enrollment
}

// WithEntity sets the enrolled entity.
func WithEntity(entity models.EntityRef) func(*models.Enrollment) {
	return func(e *models.Enrollment) {
		e.Entity = entity
	}
}

// WithEnrollmentStatus sets the enrollment status.
func WithEnrollmentStatus(status models.EnrollmentStatus) func(*models.Enrollment) {
	return func(e *models.Enrollment) {
		e.Status = status
	}
}

// WithCurrentStep positions the enrollment at a step.
func WithCurrentStep(stepID string) func(*models.Enrollment) {
	return func(e *models.Enrollment) {
		e.CurrentStepID = stepID
	}
}

// WithWait suspends the enrollment until resumeAt.
func WithWait(reason models.WaitReason, resumeAt time.Time) func(*models.Enrollment) {
	return func(e *models.Enrollment) {
		now := time.Now().UTC()
		e.Status = models.EnrollmentStatusWaiting
		e.WaitReason = reason
		e.ResumeAt = &resumeAt
		e.WaitingSince = &now
	}
}

// CreateTestRecordEvent creates a feed event for the given record.
func CreateTestRecordEvent(eventType string, entity models.EntityRef, overrides ...func(*events.RecordEvent)) *events.RecordEvent {
	event := &events.RecordEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Entity:     entity,
		Data:       map[string]any{},
		OccurredAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(event)
	}

	return event
}

// WithEventData sets the event payload.
func WithEventData(data map[string]any) func(*events.RecordEvent) {
	return func(e *events.RecordEvent) {
		e.Data = data
	}
}
