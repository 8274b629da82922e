package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence/file"
	"github.com/journeyhq/journey/pkg/workflow"
)

func eventTypes(published []eventbus.Event) []events.EventType {
	types := make([]events.EventType, 0, len(published))
	for _, event := range published {
		types = append(types, event.GetType())
	}

	return types
}

func newTestRunner(t *testing.T, persist *file.Persistence, interp *workflow.Interpreter) *workflow.Runner {
	t.Helper()

	return workflow.NewRunner("worker-1", persist, interp, testLogger())
}

func TestRunnerCompletesLinearWorkflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	wf := testWorkflow("welcome-flow",
		step("trigger-1", models.StepTypeTrigger, map[string]any{"event_type": "contact.created"},
			edge(models.BranchNext, "notify")),
		step("notify", models.StepTypeAction, map[string]any{
			"action_type": "webhook",
			"params":      map[string]any{"to": "{{entity.email}}"},
		}, edge(models.BranchNext, "score-check")),
		step("score-check", models.StepTypeCondition, map[string]any{
			"left":     "{{entity.score}}",
			"operator": "greater_than",
			"right":    "50",
		}, edge(models.BranchYes, "hot"), edge(models.BranchNo, "cold")),
		step("hot", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
		step("cold", models.StepTypeAction, map[string]any{"action_type": "log"}),
	)
	require.NoError(t, persist.SaveWorkflow(ctx, wf))

	records := &stubRecords{snapshot: map[string]any{"email": "ada@example.com", "score": float64(72)}}
	invoker := &stubInvoker{}

	interp := workflow.NewInterpreter(testLogger(), nil, records, nil, persist)
	interp.Invoker = invoker

	enrollment := models.NewEnrollment(wf.ID, models.EntityRef{Type: "contact", ID: "c-1"})
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	runner := newTestRunner(t, persist, interp)

	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.StepCompletedEvent,
		events.StepCompletedEvent,
		events.StepCompletedEvent,
		events.StepCompletedEvent,
		events.EnrollmentCompletedEvent,
	}, eventTypes(published))

	stored, err := persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Empty(t, stored.LeaseOwner)

	require.Len(t, stored.StepLog, 4)
	assert.Equal(t, "trigger-1", stored.StepLog[0].StepID)
	assert.Equal(t, "notify", stored.StepLog[1].StepID)
	assert.Equal(t, "score-check", stored.StepLog[2].StepID)
	assert.Equal(t, models.BranchYes, stored.StepLog[2].Branch)
	assert.Equal(t, "hot", stored.StepLog[3].StepID)

	assert.Equal(t, 2, invoker.callCount())
}

func TestRunnerSuspendsAndResumesDelay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	wf := testWorkflow("nurture-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "wait-1")),
		step("wait-1", models.StepTypeDelay, map[string]any{"kind": "duration", "seconds": 3600},
			edge(models.BranchNext, "notify")),
		step("notify", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)
	require.NoError(t, persist.SaveWorkflow(ctx, wf))

	invoker := &stubInvoker{}
	interp := workflow.NewInterpreter(testLogger(), nil, nil, nil, persist)
	interp.Invoker = invoker

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	interp.Now = fixedClock(now)

	enrollment := models.NewEnrollment(wf.ID, models.EntityRef{Type: "contact", ID: "c-1"})
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	runner := newTestRunner(t, persist, interp)
	runner.Now = fixedClock(now)

	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.StepCompletedEvent,
		events.EnrollmentSuspendedEvent,
	}, eventTypes(published))

	stored, err := persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusWaiting, stored.Status)
	assert.Equal(t, "wait-1", stored.CurrentStepID)
	assert.Equal(t, models.WaitReasonDelay, stored.WaitReason)
	require.NotNil(t, stored.ResumeAt)
	assert.Equal(t, now.Add(time.Hour), stored.ResumeAt.UTC())
	require.NotNil(t, stored.WaitingSince)
	assert.Zero(t, invoker.callCount())

	// Two hours later the wake event arrives.
	later := now.Add(2 * time.Hour)
	interp.Now = fixedClock(later)
	runner.Now = fixedClock(later)

	published, err = runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.StepCompletedEvent,
		events.StepCompletedEvent,
		events.EnrollmentCompletedEvent,
	}, eventTypes(published))

	stored, err = persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Nil(t, stored.ResumeAt)
	assert.Equal(t, 1, invoker.callCount())

	require.Len(t, stored.StepLog, 4)
	assert.Equal(t, models.StepOutcomeSuspended, stored.StepLog[1].Outcome)
	assert.Equal(t, models.StepOutcomeCompleted, stored.StepLog[2].Outcome)
	assert.Equal(t, "wait-1", stored.StepLog[2].StepID)
}

func TestRunnerRetriesTransientUntilExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	wf := testWorkflow("flaky-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "flaky")),
		step("flaky", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)
	wf.Settings = models.WorkflowSettings{MaxAttempts: 3, BackoffSeconds: 60}
	require.NoError(t, persist.SaveWorkflow(ctx, wf))

	invoker := &stubInvoker{fn: func(_ invokerCall) (any, error) {
		return nil, models.NewTransientError("", "gateway timeout", nil)
	}}

	interp := workflow.NewInterpreter(testLogger(), nil, nil, nil, persist)
	interp.Invoker = invoker

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	interp.Now = fixedClock(now)

	enrollment := models.NewEnrollment(wf.ID, models.EntityRef{Type: "contact", ID: "c-1"})
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	runner := newTestRunner(t, persist, interp)
	runner.Now = fixedClock(now)

	// First turn: the trigger advances, then the action fails and a retry
	// is scheduled with the base backoff.
	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	require.Len(t, published, 2)

	stepFailed, ok := published[1].(events.StepFailed)
	require.True(t, ok)
	assert.True(t, stepFailed.WillRetry)
	assert.Equal(t, 1, stepFailed.Attempt)
	assert.Equal(t, "transient", stepFailed.ErrorKind)

	stored, err := persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaiting, stored.Status)
	assert.Equal(t, models.WaitReasonRetry, stored.WaitReason)
	assert.Equal(t, 1, stored.Attempt)
	require.NotNil(t, stored.ResumeAt)
	assert.Equal(t, now.Add(time.Minute), stored.ResumeAt.UTC())

	// Second turn: the backoff doubles.
	published, err = runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	require.Len(t, published, 1)

	stored, err = persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempt)
	assert.Equal(t, now.Add(2*time.Minute), stored.ResumeAt.UTC())

	// Third turn: the attempt ceiling is reached and the enrollment fails.
	published, err = runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.StepFailedEvent,
		events.EnrollmentFailedEvent,
	}, eventTypes(published))

	stepFailed, ok = published[0].(events.StepFailed)
	require.True(t, ok)
	assert.False(t, stepFailed.WillRetry)

	stored, err = persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempt)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, models.ErrorKindTransient, stored.LastError.Kind)

	// The log keeps one failed entry per attempt.
	require.Len(t, stored.StepLog, 4)
	assert.Equal(t, 1, stored.StepLog[1].Attempt)
	assert.Equal(t, 2, stored.StepLog[2].Attempt)
	assert.Equal(t, 3, stored.StepLog[3].Attempt)
	assert.Equal(t, 3, invoker.callCount())
}

func TestRunnerPermanentErrorFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	wf := testWorkflow("strict-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "doomed")),
		step("doomed", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)
	require.NoError(t, persist.SaveWorkflow(ctx, wf))

	invoker := &stubInvoker{fn: func(_ invokerCall) (any, error) {
		return nil, models.NewPermanentError("", "record deleted upstream", nil)
	}}

	interp := workflow.NewInterpreter(testLogger(), nil, nil, nil, persist)
	interp.Invoker = invoker

	enrollment := models.NewEnrollment(wf.ID, models.EntityRef{Type: "contact", ID: "c-1"})
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	runner := newTestRunner(t, persist, interp)

	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.StepCompletedEvent,
		events.StepFailedEvent,
		events.EnrollmentFailedEvent,
	}, eventTypes(published))

	stored, err := persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, stored.Status)
	assert.Equal(t, 1, invoker.callCount())
}

func TestRunnerSkipsWhenLeaseHeld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	wf := testWorkflow("busy-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "notify")),
		step("notify", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)
	require.NoError(t, persist.SaveWorkflow(ctx, wf))

	enrollment := models.NewEnrollment(wf.ID, models.EntityRef{Type: "contact", ID: "c-1"})
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	_, err := persist.AcquireLease(ctx, enrollment.ID, "other-worker", time.Minute)
	require.NoError(t, err)

	interp := workflow.NewInterpreter(testLogger(), nil, nil, nil, persist)
	interp.Invoker = &stubInvoker{}

	runner := newTestRunner(t, persist, interp)

	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Empty(t, published)

	stored, err := persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	assert.Empty(t, stored.StepLog)
	assert.Equal(t, "other-worker", stored.LeaseOwner)
}

func TestRunnerCancelDuringStepDiscardsProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	wf := testWorkflow("cancel-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "slow")),
		step("slow", models.StepTypeAction, map[string]any{"action_type": "webhook"},
			edge(models.BranchNext, "never")),
		step("never", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)
	require.NoError(t, persist.SaveWorkflow(ctx, wf))

	enrollment := models.NewEnrollment(wf.ID, models.EntityRef{Type: "contact", ID: "c-1"})
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	// The cancel lands while the action is executing.
	invoker := &stubInvoker{fn: func(call invokerCall) (any, error) {
		stored, err := persist.EnrollmentByID(ctx, call.input.EnrollmentID)
		if err != nil {
			return nil, err
		}

		stored.Status = models.EnrollmentStatusCanceled

		return "done", persist.SaveEnrollment(ctx, stored)
	}}

	interp := workflow.NewInterpreter(testLogger(), nil, nil, nil, persist)
	interp.Invoker = invoker

	runner := newTestRunner(t, persist, interp)

	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	// Only the trigger's completion was published; the canceled status wins
	// over the action's bookkeeping and the follow-up step never runs.
	assert.Equal(t, []events.EventType{events.StepCompletedEvent}, eventTypes(published))

	stored, err := persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCanceled, stored.Status)
	require.Len(t, stored.StepLog, 1)
	assert.Equal(t, "trigger-1", stored.StepLog[0].StepID)
	assert.Equal(t, 1, invoker.callCount())
}

func TestRunnerFailsWhenWorkflowMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	enrollment := models.NewEnrollment("ghost-flow", models.EntityRef{Type: "contact", ID: "c-1"})
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	interp := workflow.NewInterpreter(testLogger(), nil, nil, nil, persist)
	runner := newTestRunner(t, persist, interp)

	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{events.EnrollmentFailedEvent}, eventTypes(published))

	stored, err := persist.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, stored.Status)
}

func TestRunnerIgnoresTerminalEnrollment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	enrollment := models.NewEnrollment("any-flow", models.EntityRef{Type: "contact", ID: "c-1"})
	enrollment.Status = models.EnrollmentStatusCompleted
	require.NoError(t, persist.SaveEnrollment(ctx, enrollment))

	interp := workflow.NewInterpreter(testLogger(), nil, nil, nil, persist)
	runner := newTestRunner(t, persist, interp)

	published, err := runner.RunEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Empty(t, published)
}
