package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/persistence/file"
)

func activeWorkflow(t *testing.T, p *file.Persistence, allowReenrollment bool) *models.Workflow {
	t.Helper()

	service := NewWorkflow(p, nil, nil)

	wf := validWorkflow()
	wf.Settings.AllowReenrollment = allowReenrollment

	created, err := service.Create(t.Context(), wf)
	require.NoError(t, err)

	_, err = service.Activate(t.Context(), created.ID, "tester")
	require.NoError(t, err)

	return created
}

func TestEnroll(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)

	publisher := &capturePublisher{}
	service := NewEnrollment(p, publisher)

	enrollment, err := service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-1"}, map[string]any{"source": "import"})
	require.NoError(t, err)
	require.NotNil(t, enrollment)

	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, wf.ID, enrollment.WorkflowID)
	assert.Equal(t, "import", enrollment.Context.Variables["source"])
	assert.Equal(t, []events.EventType{events.EnrollmentCreatedEvent}, publisher.types())

	stored, err := p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestEnrollRequiresEntity(t *testing.T) {
	t.Parallel()

	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)
	service := NewEnrollment(p, nil)

	_, err := service.Enroll(t.Context(), wf.ID, models.EntityRef{Type: "contact"}, nil)
	require.ErrorIs(t, err, ErrEntityRequired)
	assert.True(t, IsValidationError(err))
}

func TestEnrollGuardsAgainstDoubleEnrollment(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)
	service := NewEnrollment(p, nil)

	entity := models.EntityRef{Type: "contact", ID: "c-1"}

	_, err := service.Enroll(ctx, wf.ID, entity, nil)
	require.NoError(t, err)

	_, err = service.Enroll(ctx, wf.ID, entity, nil)
	require.ErrorIs(t, err, ErrAlreadyEnrolled)
	assert.True(t, IsConflictError(err))

	// A different entity is unaffected by the guard.
	_, err = service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-2"}, nil)
	require.NoError(t, err)
}

func TestEnrollGuardSkippedWhenReenrollmentAllowed(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, true)
	service := NewEnrollment(p, nil)

	entity := models.EntityRef{Type: "contact", ID: "c-1"}

	_, err := service.Enroll(ctx, wf.ID, entity, nil)
	require.NoError(t, err)

	_, err = service.Enroll(ctx, wf.ID, entity, nil)
	require.NoError(t, err)
}

func TestEnrollGuardIgnoresTerminalEnrollments(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)
	service := NewEnrollment(p, nil)

	entity := models.EntityRef{Type: "contact", ID: "c-1"}

	first, err := service.Enroll(ctx, wf.ID, entity, nil)
	require.NoError(t, err)

	_, err = service.Cancel(ctx, first.ID, "tester", "cleanup")
	require.NoError(t, err)

	_, err = service.Enroll(ctx, wf.ID, entity, nil)
	require.NoError(t, err)
}

func TestEnrollRejectsInactiveWorkflows(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	workflows := NewWorkflow(p, nil, nil)

	draft, err := workflows.Create(ctx, validWorkflow())
	require.NoError(t, err)

	service := NewEnrollment(p, nil)

	_, err = service.Enroll(ctx, draft.ID, models.EntityRef{Type: "contact", ID: "c-1"}, nil)
	require.ErrorIs(t, err, ErrWorkflowNotEnrollable)

	_, err = service.Enroll(ctx, "missing", models.EntityRef{Type: "contact", ID: "c-1"}, nil)
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestBulkEnroll(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)
	service := NewEnrollment(p, nil)

	// c-2 is already enrolled, so the batch skips it.
	_, err := service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-2"}, nil)
	require.NoError(t, err)

	result, err := service.BulkEnroll(ctx, wf.ID, []models.EntityRef{
		{Type: "contact", ID: "c-1"},
		{Type: "contact", ID: "c-2"},
		{Type: "contact", ID: "c-3"},
	}, map[string]any{"campaign": "fall"})
	require.NoError(t, err)

	assert.Len(t, result.Enrolled, 2)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "c-2", result.Skipped[0].Entity.ID)
	assert.Contains(t, result.Skipped[0].Reason, "live enrollment")

	for _, enrollment := range result.Enrolled {
		assert.Equal(t, "fall", enrollment.Context.Variables["campaign"])
	}
}

func TestEnrollmentList(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)
	service := NewEnrollment(p, nil)

	for _, id := range []string{"c-1", "c-2", "c-3"} {
		_, err := service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: id}, nil)
		require.NoError(t, err)
	}

	listed, err := service.List(ctx, persistence.EnrollmentFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	listed, err = service.List(ctx, persistence.EnrollmentFilter{WorkflowID: wf.ID, Status: models.EnrollmentStatusActive, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = service.List(ctx, persistence.EnrollmentFilter{Status: models.EnrollmentStatus("running")})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestEnrollmentCancel(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)

	publisher := &capturePublisher{}
	service := NewEnrollment(p, publisher)

	enrollment, err := service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-1"}, nil)
	require.NoError(t, err)

	canceled, err := service.Cancel(ctx, enrollment.ID, "ops@example.com", "wrong segment")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCanceled, canceled.Status)

	// Terminal states stay canceled.
	_, err = service.Cancel(ctx, enrollment.ID, "ops@example.com", "again")
	require.ErrorIs(t, err, ErrEnrollmentTerminal)

	types := publisher.types()
	require.Len(t, types, 2)
	assert.Equal(t, events.EnrollmentCanceledEvent, types[1])
}

func TestEnrollmentRetry(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)

	publisher := &capturePublisher{}
	service := NewEnrollment(p, publisher)

	enrollment, err := service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-1"}, nil)
	require.NoError(t, err)

	// Retry on a non-failed enrollment is a conflict.
	_, err = service.Retry(ctx, enrollment.ID)
	require.ErrorIs(t, err, ErrEnrollmentNotFailed)

	enrollment.Status = models.EnrollmentStatusFailed
	enrollment.Attempt = 3
	enrollment.LastError = models.NewTransientError("log-1", "upstream unavailable", nil)
	require.NoError(t, p.SaveEnrollment(ctx, enrollment))

	retried, err := service.Retry(ctx, enrollment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusActive, retried.Status)
	assert.Equal(t, 0, retried.Attempt)
	assert.Nil(t, retried.LastError)
	assert.Contains(t, publisher.types(), events.EnrollmentResumedEvent)
}

func TestEnrollmentResume(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)

	publisher := &capturePublisher{}
	service := NewEnrollment(p, publisher)

	enrollment, err := service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-1"}, nil)
	require.NoError(t, err)

	_, err = service.Resume(ctx, enrollment.ID)
	require.ErrorIs(t, err, ErrEnrollmentNotWaiting)

	future := time.Now().UTC().Add(time.Hour)
	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.WaitReason = models.WaitReasonRetry
	enrollment.ResumeAt = &future
	require.NoError(t, p.SaveEnrollment(ctx, enrollment))

	resumed, err := service.Resume(ctx, enrollment.ID)
	require.NoError(t, err)

	require.NotNil(t, resumed.ResumeAt)
	assert.False(t, resumed.ResumeAt.After(time.Now().UTC()))
	assert.Contains(t, publisher.types(), events.EnrollmentResumedEvent)
}

func TestEnrollmentStats(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	p := newTestPersistence(t)
	wf := activeWorkflow(t, p, false)
	service := NewEnrollment(p, nil)

	first, err := service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-1"}, nil)
	require.NoError(t, err)

	_, err = service.Enroll(ctx, wf.ID, models.EntityRef{Type: "contact", ID: "c-2"}, nil)
	require.NoError(t, err)

	_, err = service.Cancel(ctx, first.ID, "tester", "")
	require.NoError(t, err)

	stats, err := service.Stats(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, stats[models.EnrollmentStatusActive])
	assert.Equal(t, 1, stats[models.EnrollmentStatusCanceled])

	_, err = service.Stats(ctx, "missing")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}
