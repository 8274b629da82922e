package services

import (
	"context"
	"fmt"
	"time"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

// ErrEnrollmentNotFound is returned when an enrollment is not found.
var ErrEnrollmentNotFound = persistence.ErrEnrollmentNotFound

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Enrollment manages enrollments from the administrative side: manual and
// bulk enrollment, listing, cancel, retry and per-workflow stats. Execution
// itself belongs to the workers; this service only flips rows and publishes
// the wake-up events the workers react to.
type Enrollment struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
}

// NewEnrollment creates a new enrollment service. The publisher may be nil
// when no bus is wired.
func NewEnrollment(persistence persistence.Persistence, publisher eventbus.EventPublisher) *Enrollment {
	return &Enrollment{
		persistence: persistence,
		publisher:   publisher,
	}
}

// Enroll creates an enrollment for one entity. The workflow must be active,
// and unless it allows re-enrollment the entity must not already have a live
// enrollment in it. Variables seed the enrollment's data context.
func (s *Enrollment) Enroll(ctx context.Context, workflowID string, entity models.EntityRef, variables map[string]any) (*models.Enrollment, error) {
	if entity.Type == "" || entity.ID == "" {
		return nil, ErrEntityRequired
	}

	wf, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	if !wf.IsEnrollable() {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, wf.Status, ErrWorkflowNotEnrollable)
	}

	if !wf.Settings.AllowReenrollment {
		exists, err := s.persistence.ActiveEnrollmentExists(ctx, workflowID, entity)
		if err != nil {
			return nil, fmt.Errorf("failed to check live enrollments: %w", err)
		}

		if exists {
			return nil, fmt.Errorf("%s/%s in workflow %s: %w", entity.Type, entity.ID, workflowID, ErrAlreadyEnrolled)
		}
	}

	enrollment := models.NewEnrollment(workflowID, entity)
	for name, value := range variables {
		enrollment.Context.SetVariable(name, value)
	}

	err = s.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}

	s.publish(ctx, enrollment.ID, events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent, workflowID),
		EnrollmentID: enrollment.ID,
		Entity:       entity,
	})

	return enrollment, nil
}

// BulkEnrollSkip records one entity a bulk enrollment left out and why.
type BulkEnrollSkip struct {
	Entity models.EntityRef `json:"entity"`
	Reason string           `json:"reason"`
}

// BulkEnrollResult summarizes a bulk enrollment run.
type BulkEnrollResult struct {
	Enrolled []*models.Enrollment `json:"enrolled"`
	Skipped  []BulkEnrollSkip     `json:"skipped,omitempty"`
}

// BulkEnroll enrolls many entities into one workflow. Per-entity guard hits
// and storage failures become skips rather than aborting the batch; only a
// missing or non-enrollable workflow fails the call as a whole.
func (s *Enrollment) BulkEnroll(ctx context.Context, workflowID string, entities []models.EntityRef, variables map[string]any) (*BulkEnrollResult, error) {
	wf, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	if !wf.IsEnrollable() {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, wf.Status, ErrWorkflowNotEnrollable)
	}

	result := &BulkEnrollResult{}

	for _, entity := range entities {
		enrollment, err := s.Enroll(ctx, workflowID, entity, variables)
		if err != nil {
			result.Skipped = append(result.Skipped, BulkEnrollSkip{Entity: entity, Reason: err.Error()})

			continue
		}

		result.Enrolled = append(result.Enrolled, enrollment)
	}

	return result, nil
}

// List retrieves enrollments matching the filter, most recent first.
func (s *Enrollment) List(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.Enrollment, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}

	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if filter.Status != "" && !validEnrollmentStatus(filter.Status) {
		return nil, NewValidationError(
			"List",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status %q, allowed: active, waiting, completed, failed, canceled", filter.Status),
			ErrInvalidStatus,
		)
	}

	enrollments, err := s.persistence.Enrollments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	return enrollments, nil
}

func validEnrollmentStatus(status models.EnrollmentStatus) bool {
	switch status {
	case models.EnrollmentStatusActive, models.EnrollmentStatusWaiting,
		models.EnrollmentStatusCompleted, models.EnrollmentStatusFailed, models.EnrollmentStatusCanceled:
		return true
	default:
		return false
	}
}

// Fetch retrieves an enrollment by its ID.
func (s *Enrollment) Fetch(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.persistence.EnrollmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if enrollment == nil {
		return nil, ErrEnrollmentNotFound
	}

	return enrollment, nil
}

// Cancel moves an enrollment to its terminal canceled state. Workers re-read
// the stored status at every step boundary, so a cancel lands before the
// next continuation even while a worker holds the lease.
func (s *Enrollment) Cancel(ctx context.Context, id, canceledBy, reason string) (*models.Enrollment, error) {
	enrollment, err := s.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if enrollment.IsTerminal() {
		return nil, fmt.Errorf("enrollment %s has status %s: %w", id, enrollment.Status, ErrEnrollmentTerminal)
	}

	enrollment.Status = models.EnrollmentStatusCanceled
	enrollment.UpdatedAt = time.Now().UTC()
	enrollment.ClearWait()

	err = s.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}

	s.publish(ctx, enrollment.ID, events.EnrollmentCanceled{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCanceledEvent, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		CanceledBy:   canceledBy,
		Reason:       reason,
	})

	return enrollment, nil
}

// Retry puts a failed enrollment back to active at its failed step, resets
// the attempt counter and wakes a worker. Terminal states other than failed
// stay immutable.
func (s *Enrollment) Retry(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if enrollment.Status != models.EnrollmentStatusFailed {
		return nil, fmt.Errorf("enrollment %s has status %s: %w", id, enrollment.Status, ErrEnrollmentNotFailed)
	}

	enrollment.Status = models.EnrollmentStatusActive
	enrollment.Attempt = 0
	enrollment.LastError = nil
	enrollment.UpdatedAt = time.Now().UTC()
	enrollment.ClearWait()

	err = s.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}

	s.publish(ctx, enrollment.ID, events.EnrollmentResumed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentResumedEvent, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		WakeReason:   "manual_retry",
	})

	return enrollment, nil
}

// Resume wakes a waiting enrollment ahead of its stored resume time. A
// retry wait runs its step immediately; a delay wait recomputes its target
// from configuration on wake, so resuming early only advances the
// enrollment when the configured delay itself has passed or shrunk.
func (s *Enrollment) Resume(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if enrollment.Status != models.EnrollmentStatusWaiting {
		return nil, fmt.Errorf("enrollment %s has status %s: %w", id, enrollment.Status, ErrEnrollmentNotWaiting)
	}

	now := time.Now().UTC()
	enrollment.ResumeAt = &now
	enrollment.UpdatedAt = now

	err = s.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to save enrollment: %w", err)
	}

	s.publish(ctx, enrollment.ID, events.EnrollmentResumed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentResumedEvent, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		WakeReason:   "manual",
	})

	return enrollment, nil
}

// Stats counts a workflow's enrollments per status.
func (s *Enrollment) Stats(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	wf, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	stats, err := s.persistence.EnrollmentStats(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute enrollment stats: %w", err)
	}

	return stats, nil
}

func (s *Enrollment) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	_ = s.publisher.Publish(ctx, key, event)
}
