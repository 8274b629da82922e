package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

// defaultLeaseTTL bounds how long one worker turn may hold an enrollment
// before the lease becomes reclaimable. Leases are renewed at half-life.
const defaultLeaseTTL = 2 * time.Minute

// Runner drives enrollments through their workflow graphs one turn at a
// time: claim the lease, execute steps until the enrollment suspends or
// terminates, persist after every step, release the lease.
type Runner struct {
	// Now and LeaseTTL are knobs for tests; NewRunner fills defaults.
	Now      func() time.Time
	LeaseTTL time.Duration

	workerID    string
	persistence persistence.Persistence
	interpreter *Interpreter
	logger      *slog.Logger
}

func NewRunner(workerID string, p persistence.Persistence, interpreter *Interpreter, logger *slog.Logger) *Runner {
	return &Runner{
		Now:         func() time.Time { return time.Now().UTC() },
		LeaseTTL:    defaultLeaseTTL,
		workerID:    workerID,
		persistence: p,
		interpreter: interpreter,
		logger:      logger.With("module", "runner", "worker_id", workerID),
	}
}

// RunEnrollment executes one turn of the enrollment and returns the events
// to publish. A lease held by another worker is not an error; the turn is
// simply skipped.
func (r *Runner) RunEnrollment(ctx context.Context, enrollmentID string) ([]eventbus.Event, error) {
	enrollment, err := r.persistence.AcquireLease(ctx, enrollmentID, r.workerID, r.LeaseTTL)
	if err != nil {
		if persistence.IsLeaseHeld(err) {
			r.logger.DebugContext(ctx, "Enrollment is leased elsewhere", "enrollment_id", enrollmentID)

			return nil, nil
		}

		return nil, fmt.Errorf("failed to acquire lease for enrollment %s: %w", enrollmentID, err)
	}

	defer r.releaseLease(ctx, enrollmentID)

	return r.runTurn(ctx, enrollment)
}

func (r *Runner) releaseLease(ctx context.Context, enrollmentID string) {
	err := r.persistence.ReleaseLease(context.WithoutCancel(ctx), enrollmentID, r.workerID)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to release enrollment lease", "enrollment_id", enrollmentID, "error", err)
	}
}

func (r *Runner) runTurn(ctx context.Context, enrollment *models.Enrollment) ([]eventbus.Event, error) {
	if enrollment.IsTerminal() {
		return nil, nil
	}

	wf, err := r.persistence.WorkflowByID(ctx, enrollment.WorkflowID)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return nil, fmt.Errorf("failed to load workflow %s: %w", enrollment.WorkflowID, err)
	}

	if wf == nil {
		return r.failEnrollment(ctx, enrollment, nil,
			models.NewConfigurationError(enrollment.CurrentStepID, fmt.Sprintf("workflow %s no longer exists", enrollment.WorkflowID), nil))
	}

	// Waking up: leave the waiting state. A delay step that is still due
	// re-suspends on its own with a freshly computed target.
	if enrollment.Status == models.EnrollmentStatusWaiting {
		enrollment.Status = models.EnrollmentStatusActive
	}

	var published []eventbus.Event

	leasedAt := r.Now()

	for steps := 0; ; steps++ {
		if steps >= maxTurnSteps {
			failed, err := r.failEnrollment(ctx, enrollment, nil,
				models.NewConfigurationError(enrollment.CurrentStepID, "enrollment exceeded the per-turn step limit", nil))

			return append(published, failed...), err
		}

		if ctx.Err() != nil {
			// Interrupted mid-turn: persist progress and leave the
			// enrollment active for the next worker.
			saveErr := r.persistence.SaveEnrollment(context.WithoutCancel(ctx), enrollment)
			if saveErr != nil {
				r.logger.ErrorContext(ctx, "Failed to save enrollment on interruption", "enrollment_id", enrollment.ID, "error", saveErr)
			}

			return published, nil
		}

		leasedAt, err = r.renewLeaseAtHalfLife(ctx, enrollment.ID, leasedAt)
		if err != nil {
			if persistence.IsLeaseHeld(err) {
				r.logger.WarnContext(ctx, "Lost enrollment lease mid-turn", "enrollment_id", enrollment.ID)

				return published, nil
			}

			return published, err
		}

		if enrollment.CurrentStepID == "" {
			trigger := wf.TriggerStep()
			if trigger == nil {
				failed, err := r.failEnrollment(ctx, enrollment, nil,
					models.NewConfigurationError("", "workflow has no trigger step", nil))

				return append(published, failed...), err
			}

			enrollment.CurrentStepID = trigger.ID
		}

		step := wf.StepByID(enrollment.CurrentStepID)
		if step == nil {
			failed, err := r.failEnrollment(ctx, enrollment, nil,
				models.NewConfigurationError(enrollment.CurrentStepID, "enrollment points at an unknown step", nil))

			return append(published, failed...), err
		}

		started := r.Now()

		result, err := r.interpreter.ExecuteStep(ctx, wf, enrollment, step)

		finished := r.Now()

		// An administrative cancel that landed while the step ran wins over
		// the step's bookkeeping: nothing below may persist and resurrect
		// the enrollment.
		canceled, cancelErr := r.canceledElsewhere(ctx, enrollment.ID)
		if cancelErr != nil {
			return published, cancelErr
		}

		if canceled {
			r.logger.InfoContext(ctx, "Enrollment canceled, discarding turn progress", "enrollment_id", enrollment.ID)

			return published, nil
		}

		if err != nil {
			failed, ferr := r.handleStepFailure(ctx, enrollment, wf, step, err, started, finished)

			return append(published, failed...), ferr
		}

		if result.Suspended {
			suspended, serr := r.suspendEnrollment(ctx, enrollment, step, result, started, finished)

			return append(published, suspended...), serr
		}

		r.persistChildren(ctx, result.Children)

		enrollment.StepLog = append(enrollment.StepLog, models.StepLogEntry{
			StepID:     step.ID,
			Type:       step.Type,
			Outcome:    models.StepOutcomeCompleted,
			Branch:     result.Branch,
			Attempt:    enrollment.Attempt + 1,
			StartedAt:  started,
			FinishedAt: finished,
		})

		enrollment.Attempt = 0
		enrollment.LastError = nil
		enrollment.ClearWait()
		enrollment.UpdatedAt = finished

		published = append(published, events.StepCompleted{
			BaseEvent:    r.baseEvent(events.StepCompletedEvent, enrollment.WorkflowID),
			EnrollmentID: enrollment.ID,
			StepID:       step.ID,
			StepType:     string(step.Type),
			Branch:       result.Branch,
			DurationMs:   finished.Sub(started).Milliseconds(),
		})

		next, ok := step.EdgeTo(result.Branch)
		if !ok {
			completed, cerr := r.completeEnrollment(ctx, enrollment)

			return append(published, completed...), cerr
		}

		enrollment.CurrentStepID = next

		err = r.persistence.SaveEnrollment(ctx, enrollment)
		if err != nil {
			return published, fmt.Errorf("failed to save enrollment %s: %w", enrollment.ID, err)
		}
	}
}

// canceledElsewhere re-reads the stored status after each executed step,
// before its results persist, so an administrative cancel takes effect
// within one step at the latest.
func (r *Runner) canceledElsewhere(ctx context.Context, enrollmentID string) (bool, error) {
	stored, err := r.persistence.EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return false, fmt.Errorf("failed to re-read enrollment %s: %w", enrollmentID, err)
	}

	return stored.Status == models.EnrollmentStatusCanceled, nil
}

func (r *Runner) renewLeaseAtHalfLife(ctx context.Context, enrollmentID string, leasedAt time.Time) (time.Time, error) {
	if r.Now().Sub(leasedAt) < r.LeaseTTL/2 {
		return leasedAt, nil
	}

	err := r.persistence.RenewLease(ctx, enrollmentID, r.workerID, r.LeaseTTL)
	if err != nil {
		return leasedAt, err
	}

	return r.Now(), nil
}

func (r *Runner) handleStepFailure(ctx context.Context, enrollment *models.Enrollment, wf *models.Workflow, step *models.Step, stepFailure error, started, finished time.Time) ([]eventbus.Event, error) {
	stepErr := models.AsStepError(stepFailure, step.ID)

	enrollment.Attempt++
	enrollment.LastError = stepErr
	enrollment.UpdatedAt = finished

	policy := PolicyFor(wf.Settings)
	willRetry := models.IsTransientError(stepErr) && !policy.Exhausted(enrollment.Attempt)

	enrollment.StepLog = append(enrollment.StepLog, models.StepLogEntry{
		StepID:     step.ID,
		Type:       step.Type,
		Outcome:    models.StepOutcomeFailed,
		Attempt:    enrollment.Attempt,
		Error:      stepErr.Error(),
		StartedAt:  started,
		FinishedAt: finished,
	})

	stepFailed := events.StepFailed{
		BaseEvent:    r.baseEvent(events.StepFailedEvent, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		StepType:     string(step.Type),
		Attempt:      enrollment.Attempt,
		Error:        stepErr.Message,
		ErrorKind:    string(stepErr.Kind),
		WillRetry:    willRetry,
	}

	if !willRetry {
		failed, err := r.failEnrollment(ctx, enrollment, step, stepErr)

		return append([]eventbus.Event{stepFailed}, failed...), err
	}

	delay := policy.NextDelay(enrollment.Attempt)
	resumeAt := finished.Add(delay)

	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.ResumeAt = &resumeAt
	enrollment.WaitingSince = nil
	enrollment.WaitReason = models.WaitReasonRetry

	err := r.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return []eventbus.Event{stepFailed}, fmt.Errorf("failed to save enrollment %s: %w", enrollment.ID, err)
	}

	r.logger.WarnContext(ctx, "Step failed, retry scheduled",
		"enrollment_id", enrollment.ID,
		"step_id", step.ID,
		"attempt", enrollment.Attempt,
		"resume_at", resumeAt,
		"error", stepErr)

	return []eventbus.Event{stepFailed}, nil
}

// failEnrollment moves the enrollment to its terminal failed state. The
// step may be nil when the failure is not attributable to a known step.
func (r *Runner) failEnrollment(ctx context.Context, enrollment *models.Enrollment, step *models.Step, stepErr *models.StepError) ([]eventbus.Event, error) {
	enrollment.Status = models.EnrollmentStatusFailed
	enrollment.LastError = stepErr
	enrollment.UpdatedAt = r.Now()
	enrollment.ClearWait()

	err := r.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to save enrollment %s: %w", enrollment.ID, err)
	}

	stepID := stepErr.StepID
	if step != nil {
		stepID = step.ID
	}

	r.logger.ErrorContext(ctx, "Enrollment failed",
		"enrollment_id", enrollment.ID,
		"workflow_id", enrollment.WorkflowID,
		"step_id", stepID,
		"error", stepErr)

	return []eventbus.Event{events.EnrollmentFailed{
		BaseEvent:    r.baseEvent(events.EnrollmentFailedEvent, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		StepID:       stepID,
		Error:        stepErr.Message,
		ErrorKind:    string(stepErr.Kind),
		Attempt:      enrollment.Attempt,
	}}, nil
}

func (r *Runner) suspendEnrollment(ctx context.Context, enrollment *models.Enrollment, step *models.Step, result *StepResult, started, finished time.Time) ([]eventbus.Event, error) {
	resumeAt := result.ResumeAt
	waitingSince := result.WaitingSince

	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.ResumeAt = &resumeAt
	enrollment.WaitingSince = &waitingSince
	enrollment.WaitReason = result.WaitReason
	enrollment.UpdatedAt = finished

	// A delay step re-checked after a wake-up logs only its first
	// suspension.
	if last := len(enrollment.StepLog) - 1; last < 0 ||
		enrollment.StepLog[last].StepID != step.ID ||
		enrollment.StepLog[last].Outcome != models.StepOutcomeSuspended {
		enrollment.StepLog = append(enrollment.StepLog, models.StepLogEntry{
			StepID:     step.ID,
			Type:       step.Type,
			Outcome:    models.StepOutcomeSuspended,
			Attempt:    enrollment.Attempt + 1,
			StartedAt:  started,
			FinishedAt: finished,
		})
	}

	err := r.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to save enrollment %s: %w", enrollment.ID, err)
	}

	r.logger.InfoContext(ctx, "Enrollment suspended",
		"enrollment_id", enrollment.ID,
		"step_id", step.ID,
		"resume_at", resumeAt)

	return []eventbus.Event{events.EnrollmentSuspended{
		BaseEvent:    r.baseEvent(events.EnrollmentSuspendedEvent, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		ResumeAt:     resumeAt,
		WaitReason:   string(result.WaitReason),
	}}, nil
}

func (r *Runner) completeEnrollment(ctx context.Context, enrollment *models.Enrollment) ([]eventbus.Event, error) {
	now := r.Now()

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &now
	enrollment.UpdatedAt = now
	enrollment.ClearWait()

	err := r.persistence.SaveEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to save enrollment %s: %w", enrollment.ID, err)
	}

	r.logger.InfoContext(ctx, "Enrollment completed",
		"enrollment_id", enrollment.ID,
		"workflow_id", enrollment.WorkflowID,
		"steps", len(enrollment.StepLog))

	return []eventbus.Event{events.EnrollmentCompleted{
		BaseEvent:     r.baseEvent(events.EnrollmentCompletedEvent, enrollment.WorkflowID),
		EnrollmentID:  enrollment.ID,
		StepsExecuted: len(enrollment.StepLog),
		DurationMs:    now.Sub(enrollment.CreatedAt).Milliseconds(),
	}}, nil
}

// persistChildren records terminal sub-workflow child enrollments. Child
// rows are audit detail; a save failure does not fail the step.
func (r *Runner) persistChildren(ctx context.Context, children []*models.Enrollment) {
	for _, child := range children {
		err := r.persistence.SaveEnrollment(ctx, child)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to save child enrollment",
				"enrollment_id", child.ID,
				"parent_enrollment_id", child.ParentEnrollmentID,
				"error", err)
		}
	}
}

func (r *Runner) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = r.workerID

	return base
}
