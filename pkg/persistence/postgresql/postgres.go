// Package postgresql provides PostgreSQL persistence for workflows and
// enrollments.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	workflowRepo   *WorkflowRepository
	enrollmentRepo *EnrollmentRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:             database,
		logger:         logger,
		workflowRepo:   NewWorkflowRepository(database, logger),
		enrollmentRepo: NewEnrollmentRepository(database, logger),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Workflows returns all workflows from the database.
func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx)
}

// WorkflowsByStatus returns workflows with the given status.
func (p *Persistence) WorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	return p.workflowRepo.GetByStatus(ctx, status)
}

// WorkflowByID returns a workflow by its ID.
func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

// SaveWorkflow saves a workflow to the database.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

// DeleteWorkflow removes a workflow.
func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflowRepo.Delete(ctx, id)
}

// EnrollmentByID returns an enrollment by its ID.
func (p *Persistence) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return p.enrollmentRepo.GetByID(ctx, id)
}

// SaveEnrollment saves an enrollment to the database.
func (p *Persistence) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	return p.enrollmentRepo.Save(ctx, enrollment)
}

// Enrollments returns enrollments matching the filter.
func (p *Persistence) Enrollments(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.Enrollment, error) {
	return p.enrollmentRepo.List(ctx, filter)
}

// ActiveEnrollmentExists reports whether the entity has a live enrollment
// in the workflow.
func (p *Persistence) ActiveEnrollmentExists(ctx context.Context, workflowID string, entity models.EntityRef) (bool, error) {
	return p.enrollmentRepo.ActiveExists(ctx, workflowID, entity)
}

// AcquireLease atomically claims an enrollment for the owner.
func (p *Persistence) AcquireLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) (*models.Enrollment, error) {
	return p.enrollmentRepo.AcquireLease(ctx, enrollmentID, owner, ttl)
}

// RenewLease extends a lease the owner holds.
func (p *Persistence) RenewLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) error {
	return p.enrollmentRepo.RenewLease(ctx, enrollmentID, owner, ttl)
}

// ReleaseLease clears a lease the owner holds.
func (p *Persistence) ReleaseLease(ctx context.Context, enrollmentID, owner string) error {
	return p.enrollmentRepo.ReleaseLease(ctx, enrollmentID, owner)
}

// DueEnrollments returns waiting enrollments whose resume threshold passed.
func (p *Persistence) DueEnrollments(ctx context.Context, before time.Time, limit int) ([]*models.Enrollment, error) {
	return p.enrollmentRepo.Due(ctx, before, limit)
}

// EnrollmentStats counts a workflow's enrollments per status.
func (p *Persistence) EnrollmentStats(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	return p.enrollmentRepo.Stats(ctx, workflowID)
}
