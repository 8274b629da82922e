package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"enrollments", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("journey_test"),
			postgres.WithUsername("journey"),
			postgres.WithPassword("journey"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func saveTestWorkflow(ctx context.Context, t *testing.T, p *postgresql.Persistence) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		Name:        "Lead nurture",
		Description: "Waits a day after signup, then tags hot leads",
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{
				ID:     "trigger-1",
				Type:   models.StepTypeTrigger,
				Config: map[string]any{"event_type": "contact.created", "entity_type": "contact"},
				Edges:  []models.Edge{{Branch: models.BranchNext, To: "delay-1"}},
			},
			{
				ID:     "delay-1",
				Type:   models.StepTypeDelay,
				Config: map[string]any{"kind": "duration", "seconds": 86400},
				Edges:  []models.Edge{{Branch: models.BranchNext, To: "tag-1"}},
			},
			{
				ID:     "tag-1",
				Type:   models.StepTypeAction,
				Config: map[string]any{"action_type": "add_tag", "params": map[string]any{"tag": "nurtured"}},
			},
		},
		Settings: models.WorkflowSettings{MaxAttempts: 3, BackoffSeconds: 30},
		Metadata: map[string]any{"team": "growth"},
	}

	err := p.SaveWorkflow(ctx, workflow)
	require.NoError(t, err)

	return workflow
}

func saveTestEnrollment(ctx context.Context, t *testing.T, p *postgresql.Persistence, workflowID, entityID string) *models.Enrollment {
	t.Helper()

	enrollment := models.NewEnrollment(workflowID, models.EntityRef{Type: "contact", ID: entityID})
	enrollment.CurrentStepID = "delay-1"

	err := p.SaveEnrollment(ctx, enrollment)
	require.NoError(t, err)

	return enrollment
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'workflows')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "workflows table should exist")

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'enrollments')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "enrollments table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_SaveAndRetrieveWorkflow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.False(t, workflow.UpdatedAt.IsZero())

	retrieved, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, workflow.ID, retrieved.ID)
	assert.Equal(t, workflow.Name, retrieved.Name)
	assert.Equal(t, models.WorkflowStatusActive, retrieved.Status)
	assert.Equal(t, 3, retrieved.Settings.MaxAttempts)
	assert.Equal(t, "growth", retrieved.Metadata["team"])

	require.Len(t, retrieved.Steps, 3)
	assert.Equal(t, models.StepTypeTrigger, retrieved.Steps[0].Type)

	next, ok := retrieved.Steps[0].EdgeTo(models.BranchNext)
	require.True(t, ok)
	assert.Equal(t, "delay-1", next)

	notFound, err := p.WorkflowByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, notFound)
}

func TestNewPersistence_UpdateWorkflow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)
	initialUpdatedAt := workflow.UpdatedAt

	time.Sleep(10 * time.Millisecond)

	workflow.Name = "Lead nurture v2"
	workflow.Status = models.WorkflowStatusPaused

	err := p.SaveWorkflow(ctx, workflow)
	require.NoError(t, err)

	retrieved, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, "Lead nurture v2", retrieved.Name)
	assert.Equal(t, models.WorkflowStatusPaused, retrieved.Status)
	assert.True(t, retrieved.UpdatedAt.After(initialUpdatedAt))
}

func TestNewPersistence_WorkflowsByStatus(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	active := saveTestWorkflow(ctx, t, p)

	draft := &models.Workflow{Name: "Unfinished", Status: models.WorkflowStatusDraft}
	err := p.SaveWorkflow(ctx, draft)
	require.NoError(t, err)

	found, err := p.WorkflowsByStatus(ctx, models.WorkflowStatusActive)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, active.ID, found[0].ID)
}

func TestNewPersistence_DeleteWorkflow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)

	err := p.DeleteWorkflow(ctx, workflow.ID)
	require.NoError(t, err)

	deleted, err := p.WorkflowByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)

	err = p.DeleteWorkflow(ctx, uuid.NewString())
	assert.NoError(t, err)
}

func TestNewPersistence_EnrollmentRoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)
	enrollment := saveTestEnrollment(ctx, t, p, workflow.ID, "c-1")

	enrollment.Context.SetVariable("score", 42.0)
	enrollment.Context.SetStepOutput("fetch-1", map[string]any{"status_code": 200.0})
	enrollment.StepLog = append(enrollment.StepLog, models.StepLogEntry{
		StepID:  "trigger-1",
		Type:    models.StepTypeTrigger,
		Outcome: models.StepOutcomeCompleted,
	})
	enrollment.LastError = models.NewTransientError("fetch-1", "upstream 503", nil)

	err := p.SaveEnrollment(ctx, enrollment)
	require.NoError(t, err)

	retrieved, err := p.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, workflow.ID, retrieved.WorkflowID)
	assert.Equal(t, models.EntityRef{Type: "contact", ID: "c-1"}, retrieved.Entity)
	assert.Equal(t, "delay-1", retrieved.CurrentStepID)
	assert.Equal(t, 42.0, retrieved.Context.Variables["score"])
	require.Len(t, retrieved.StepLog, 1)
	assert.Equal(t, models.StepOutcomeCompleted, retrieved.StepLog[0].Outcome)
	require.NotNil(t, retrieved.LastError)
	assert.Equal(t, models.ErrorKindTransient, retrieved.LastError.Kind)

	missing, err := p.EnrollmentByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNewPersistence_AcquireLease(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)
	enrollment := saveTestEnrollment(ctx, t, p, workflow.ID, "c-1")

	claimed, err := p.AcquireLease(ctx, enrollment.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", claimed.LeaseOwner)
	require.NotNil(t, claimed.LeaseExpiresAt)

	_, err = p.AcquireLease(ctx, enrollment.ID, "worker-b", time.Minute)
	require.Error(t, err)
	assert.True(t, persistence.IsLeaseHeld(err))

	_, err = p.AcquireLease(ctx, uuid.NewString(), "worker-b", time.Minute)
	require.Error(t, err)
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}

func TestNewPersistence_AcquireLeaseAfterExpiry(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)
	enrollment := saveTestEnrollment(ctx, t, p, workflow.ID, "c-1")

	_, err := p.AcquireLease(ctx, enrollment.ID, "worker-a", -time.Second)
	require.NoError(t, err)

	claimed, err := p.AcquireLease(ctx, enrollment.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", claimed.LeaseOwner)
}

func TestNewPersistence_RenewAndReleaseLease(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)
	enrollment := saveTestEnrollment(ctx, t, p, workflow.ID, "c-1")

	_, err := p.AcquireLease(ctx, enrollment.ID, "worker-a", time.Minute)
	require.NoError(t, err)

	err = p.RenewLease(ctx, enrollment.ID, "worker-a", 2*time.Minute)
	require.NoError(t, err)

	err = p.RenewLease(ctx, enrollment.ID, "worker-b", time.Minute)
	require.Error(t, err)
	assert.True(t, persistence.IsLeaseHeld(err))

	err = p.ReleaseLease(ctx, enrollment.ID, "worker-a")
	require.NoError(t, err)

	claimed, err := p.AcquireLease(ctx, enrollment.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", claimed.LeaseOwner)
}

func TestNewPersistence_DueEnrollments(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := saveTestEnrollment(ctx, t, p, workflow.ID, "c-due")
	due.Status = models.EnrollmentStatusWaiting
	due.ResumeAt = &past
	require.NoError(t, p.SaveEnrollment(ctx, due))

	notYet := saveTestEnrollment(ctx, t, p, workflow.ID, "c-later")
	notYet.Status = models.EnrollmentStatusWaiting
	notYet.ResumeAt = &future
	require.NoError(t, p.SaveEnrollment(ctx, notYet))

	leased := saveTestEnrollment(ctx, t, p, workflow.ID, "c-leased")
	leased.Status = models.EnrollmentStatusWaiting
	leased.ResumeAt = &past
	require.NoError(t, p.SaveEnrollment(ctx, leased))

	_, err := p.AcquireLease(ctx, leased.ID, "worker-a", time.Minute)
	require.NoError(t, err)

	found, err := p.DueEnrollments(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)
}

func TestNewPersistence_ActiveEnrollmentExists(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)
	entity := models.EntityRef{Type: "contact", ID: "c-1"}

	exists, err := p.ActiveEnrollmentExists(ctx, workflow.ID, entity)
	require.NoError(t, err)
	assert.False(t, exists)

	enrollment := saveTestEnrollment(ctx, t, p, workflow.ID, "c-1")

	exists, err = p.ActiveEnrollmentExists(ctx, workflow.ID, entity)
	require.NoError(t, err)
	assert.True(t, exists)

	enrollment.Status = models.EnrollmentStatusCompleted
	require.NoError(t, p.SaveEnrollment(ctx, enrollment))

	exists, err = p.ActiveEnrollmentExists(ctx, workflow.ID, entity)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNewPersistence_EnrollmentStatsAndFilter(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := saveTestWorkflow(ctx, t, p)

	completed := saveTestEnrollment(ctx, t, p, workflow.ID, "c-1")
	completed.Status = models.EnrollmentStatusCompleted
	require.NoError(t, p.SaveEnrollment(ctx, completed))

	saveTestEnrollment(ctx, t, p, workflow.ID, "c-2")
	saveTestEnrollment(ctx, t, p, workflow.ID, "c-3")

	stats, err := p.EnrollmentStats(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[models.EnrollmentStatusActive])
	assert.Equal(t, 1, stats[models.EnrollmentStatusCompleted])

	found, err := p.Enrollments(ctx, persistence.EnrollmentFilter{
		WorkflowID: workflow.ID,
		Status:     models.EnrollmentStatusActive,
	})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = p.Enrollments(ctx, persistence.EnrollmentFilter{
		WorkflowID: workflow.ID,
		EntityID:   "c-1",
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, completed.ID, found[0].ID)
}
