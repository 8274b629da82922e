// Package persistence provides the storage abstraction for workflows and
// enrollments.
package persistence

import (
	"context"
	"time"

	"github.com/journeyhq/journey/pkg/models"
)

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// EnrollmentFilter narrows enrollment listings.
type EnrollmentFilter struct {
	WorkflowID string
	Status     models.EnrollmentStatus
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// EnrollmentRepository stores enrollments and implements the lease
// discipline: at most one worker holds a live lease per enrollment.
type EnrollmentRepository interface {
	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)
	SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	Enrollments(ctx context.Context, filter EnrollmentFilter) ([]*models.Enrollment, error)

	// ActiveEnrollmentExists reports whether the entity already has a live
	// (active or waiting) enrollment in the workflow. Backs the
	// re-enrollment guard.
	ActiveEnrollmentExists(ctx context.Context, workflowID string, entity models.EntityRef) (bool, error)

	// AcquireLease atomically claims an enrollment for the given owner. It
	// succeeds only when no lease is held or the held lease expired, and
	// returns the fresh row on success. Returns ErrLeaseHeld when another
	// owner holds a live lease.
	AcquireLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) (*models.Enrollment, error)

	// RenewLease extends a lease the owner already holds. Returns
	// ErrLeaseHeld when the lease moved to another owner in the meantime.
	RenewLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) error

	// ReleaseLease clears the lease if the owner still holds it.
	ReleaseLease(ctx context.Context, enrollmentID, owner string) error

	// DueEnrollments returns waiting enrollments whose resume_at passed,
	// skipping rows under a live lease.
	DueEnrollments(ctx context.Context, before time.Time, limit int) ([]*models.Enrollment, error)

	// EnrollmentStats counts a workflow's enrollments per status.
	EnrollmentStats(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error)
}

type Persistence interface {
	WorkflowRepository
	EnrollmentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
