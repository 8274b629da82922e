package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/workflow"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Workflow manages workflow definitions and their lifecycle: draft edits,
// validation-gated activation, pause, resume and archival. Lifecycle
// transitions publish bus events keyed by workflow id.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
}

// NewWorkflow creates a new workflow service. The registry is used to check
// action types during graph validation; the publisher may be nil when no bus
// is wired (tests, offline tooling).
func NewWorkflow(persistence persistence.Persistence, reg *registry.Registry, publisher eventbus.EventPublisher) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    reg,
		publisher:   publisher,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List retrieves workflows, optionally narrowed to one status.
func (w *Workflow) List(ctx context.Context, status *models.WorkflowStatus) ([]*models.Workflow, error) {
	if status == nil {
		workflows, err := w.persistence.Workflows(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list workflows: %w", err)
		}

		return workflows, nil
	}

	if !validWorkflowStatus(*status) {
		return nil, NewValidationError(
			"List",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status %q, allowed: draft, active, paused, archived", *status),
			ErrInvalidStatus,
		)
	}

	workflows, err := w.persistence.WorkflowsByStatus(ctx, *status)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows by status: %w", err)
	}

	return workflows, nil
}

func validWorkflowStatus(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowStatusDraft, models.WorkflowStatusActive, models.WorkflowStatusPaused, models.WorkflowStatusArchived:
		return true
	default:
		return false
	}
}

// Fetch retrieves a workflow by its ID.
func (w *Workflow) Fetch(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	return wf, nil
}

// Create adds a new workflow in draft status. Steps without ids get one
// assigned; graph validity is only enforced at activation time so drafts can
// be saved half-built.
func (w *Workflow) Create(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if wf == nil {
		return nil, ErrWorkflowNil
	}

	if wf.Name == "" {
		return nil, ErrWorkflowNameRequired
	}

	now := time.Now().UTC()
	wf.ID = uuid.New().String()
	wf.Status = models.WorkflowStatusDraft
	wf.CreatedAt = now
	wf.UpdatedAt = now
	wf.ActivatedAt = nil
	wf.ArchivedAt = nil

	for _, step := range wf.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	err := w.persistence.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return wf, nil
}

// Update replaces a draft workflow's definition. Workflows are immutable
// once activated; the only post-activation edit allowed is RetargetDelay.
func (w *Workflow) Update(ctx context.Context, workflowID string, wf *models.Workflow) (*models.Workflow, error) {
	if wf == nil {
		return nil, ErrWorkflowNil
	}

	if wf.Name == "" {
		return nil, ErrWorkflowNameRequired
	}

	existing, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return nil, ErrWorkflowNotFound
	}

	if existing.Status != models.WorkflowStatusDraft {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, existing.Status, ErrWorkflowNotDraft)
	}

	wf.ID = workflowID
	wf.Status = existing.Status
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now().UTC()

	for _, step := range wf.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	err = w.persistence.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return wf, nil
}

// Delete removes a workflow by its ID. Active and paused workflows cannot be
// deleted while enrollments may still reference them; archive first.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	existing, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if existing == nil {
		return ErrWorkflowNotFound
	}

	if existing.Status == models.WorkflowStatusActive || existing.Status == models.WorkflowStatusPaused {
		return fmt.Errorf("workflow %s has status %s: %w", workflowID, existing.Status, ErrWorkflowInUse)
	}

	err = w.persistence.DeleteWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Validate runs graph validation without changing the workflow. An empty
// issue list means the workflow would activate.
func (w *Workflow) Validate(ctx context.Context, workflowID string) ([]workflow.Issue, error) {
	wf, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow.ValidateGraph(wf, w.registry), nil
}

// Activate transitions a draft or paused workflow to active. Drafts pass
// through graph validation first; a paused workflow was validated at its
// original activation and its graph has not changed since.
func (w *Workflow) Activate(ctx context.Context, workflowID, activatedBy string) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	switch wf.Status {
	case models.WorkflowStatusDraft, models.WorkflowStatusPaused:
	default:
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, wf.Status, ErrWorkflowNotActivatable)
	}

	if wf.Status == models.WorkflowStatusDraft {
		issues := workflow.ValidateGraph(wf, w.registry)
		if len(issues) > 0 {
			return nil, NewValidationError(
				"Activate",
				"INVALID_GRAPH",
				workflow.FormatIssues(issues),
				ErrInvalidGraph,
			)
		}
	}

	now := time.Now().UTC()
	wf.Status = models.WorkflowStatusActive
	wf.UpdatedAt = now

	if wf.ActivatedAt == nil {
		wf.ActivatedAt = &now
	}

	err = w.persistence.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	w.publish(ctx, wf.ID, events.WorkflowActivated{
		BaseEvent:   events.NewBaseEvent(events.WorkflowActivatedEvent, wf.ID),
		ActivatedBy: activatedBy,
	})

	return wf, nil
}

// Pause stops an active workflow from creating new enrollments. Existing
// enrollments keep running.
func (w *Workflow) Pause(ctx context.Context, workflowID, pausedBy string) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	if wf.Status != models.WorkflowStatusActive {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, wf.Status, ErrWorkflowNotPausable)
	}

	wf.Status = models.WorkflowStatusPaused
	wf.UpdatedAt = time.Now().UTC()

	err = w.persistence.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to pause workflow: %w", err)
	}

	w.publish(ctx, wf.ID, events.WorkflowPaused{
		BaseEvent: events.NewBaseEvent(events.WorkflowPausedEvent, wf.ID),
		PausedBy:  pausedBy,
	})

	return wf, nil
}

// Archive retires a workflow permanently. Reachable from any non-archived
// status; archived is terminal.
func (w *Workflow) Archive(ctx context.Context, workflowID, archivedBy string) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	if wf.Status == models.WorkflowStatusArchived {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowArchived)
	}

	now := time.Now().UTC()
	wf.Status = models.WorkflowStatusArchived
	wf.UpdatedAt = now
	wf.ArchivedAt = &now

	err = w.persistence.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to archive workflow: %w", err)
	}

	w.publish(ctx, wf.ID, events.WorkflowArchived{
		BaseEvent:  events.NewBaseEvent(events.WorkflowArchivedEvent, wf.ID),
		ArchivedBy: archivedBy,
	})

	return wf, nil
}

// RetargetDelay replaces one delay step's configuration. This is the single
// permitted edit on an activated workflow: enrollments already waiting at
// the step recompute their wake time from the original entry and the new
// configuration.
func (w *Workflow) RetargetDelay(ctx context.Context, workflowID, stepID string, cfg models.DelayConfig) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	if wf.Status == models.WorkflowStatusArchived {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowArchived)
	}

	step := wf.StepByID(stepID)
	if step == nil {
		return nil, NewValidationError(
			"RetargetDelay",
			"UNKNOWN_STEP",
			fmt.Sprintf("workflow %s has no step %s", workflowID, stepID),
			ErrInvalidRequest,
		)
	}

	if step.Type != models.StepTypeDelay {
		return nil, fmt.Errorf("step %s has type %s: %w", stepID, step.Type, ErrNotDelayStep)
	}

	if cfg.Kind == "" {
		cfg.Kind = models.DelayKindDuration
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delay configuration: %w", err)
	}

	config := make(map[string]any)

	err = json.Unmarshal(raw, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delay configuration: %w", err)
	}

	step.Config = config

	// The workflow was valid before this edit, so any fresh issue is the new
	// delay configuration's fault.
	if issues := workflow.ValidateGraph(wf, w.registry); len(issues) > 0 {
		return nil, NewValidationError(
			"RetargetDelay",
			"INVALID_DELAY",
			workflow.FormatIssues(issues),
			ErrInvalidDelayConfig,
		)
	}

	wf.UpdatedAt = time.Now().UTC()

	err = w.persistence.SaveWorkflow(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.refreshWaitingAt(ctx, wf, stepID, cfg)

	return wf, nil
}

// refreshWaitingAt re-anchors stored wake times of enrollments already
// waiting at the re-targeted delay step, so the scheduler's next due scan
// sees the new target instead of the stale one. Best effort: the delay step
// recomputes its target from configuration on wake anyway.
func (w *Workflow) refreshWaitingAt(ctx context.Context, wf *models.Workflow, stepID string, cfg models.DelayConfig) {
	waiting, err := w.persistence.Enrollments(ctx, persistence.EnrollmentFilter{
		WorkflowID: wf.ID,
		Status:     models.EnrollmentStatusWaiting,
	})
	if err != nil {
		return
	}

	for _, enrollment := range waiting {
		if enrollment.CurrentStepID != stepID || enrollment.WaitReason != models.WaitReasonDelay || enrollment.WaitingSince == nil {
			continue
		}

		target, err := workflow.DelayTarget(cfg, *enrollment.WaitingSince)
		if err != nil {
			continue
		}

		enrollment.ResumeAt = &target
		enrollment.UpdatedAt = time.Now().UTC()

		_ = w.persistence.SaveEnrollment(ctx, enrollment)
	}
}

func (w *Workflow) publish(ctx context.Context, key string, event eventbus.Event) {
	if w.publisher == nil {
		return
	}

	_ = w.publisher.Publish(ctx, key, event)
}
