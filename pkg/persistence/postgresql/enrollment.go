package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

// EnrollmentRepository handles enrollment-related database operations,
// including the worker lease discipline.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
	id
  , workflow_id
  , entity_type
  , entity_id
  , status
  , current_step_id
  , context
  , step_log
  , attempt
  , resume_at
  , waiting_since
  , wait_reason
  , last_error
  , lease_owner
  , lease_expires_at
  , parent_enrollment_id
  , created_at
  , updated_at
  , completed_at
`

// GetByID returns an enrollment by its ID, or nil when it does not exist.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	enrollment, err := r.scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// Save upserts an enrollment.
func (r *EnrollmentRepository) Save(ctx context.Context, enrollment *models.Enrollment) error {
	now := time.Now().UTC()

	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}

	enrollment.UpdatedAt = now

	contextJSON, err := json.Marshal(enrollment.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	stepLogJSON, err := json.Marshal(enrollment.StepLog)
	if err != nil {
		return fmt.Errorf("failed to marshal step log: %w", err)
	}

	var lastErrorJSON []byte

	if enrollment.LastError != nil {
		lastErrorJSON, err = json.Marshal(enrollment.LastError)
		if err != nil {
			return fmt.Errorf("failed to marshal last error: %w", err)
		}
	}

	query := `
		INSERT INTO enrollments (id, workflow_id, entity_type, entity_id, status, current_step_id,
			context, step_log, attempt, resume_at, waiting_since, wait_reason, last_error,
			lease_owner, lease_expires_at, parent_enrollment_id, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_id = EXCLUDED.current_step_id,
			context = EXCLUDED.context,
			step_log = EXCLUDED.step_log,
			attempt = EXCLUDED.attempt,
			resume_at = EXCLUDED.resume_at,
			waiting_since = EXCLUDED.waiting_since,
			wait_reason = EXCLUDED.wait_reason,
			last_error = EXCLUDED.last_error,
			lease_owner = EXCLUDED.lease_owner,
			lease_expires_at = EXCLUDED.lease_expires_at,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.WorkflowID,
		enrollment.Entity.Type,
		enrollment.Entity.ID,
		enrollment.Status,
		nullableString(enrollment.CurrentStepID),
		contextJSON,
		stepLogJSON,
		enrollment.Attempt,
		enrollment.ResumeAt,
		enrollment.WaitingSince,
		nullableString(string(enrollment.WaitReason)),
		lastErrorJSON,
		nullableString(enrollment.LeaseOwner),
		enrollment.LeaseExpiresAt,
		nullableString(enrollment.ParentEnrollmentID),
		enrollment.CreatedAt,
		enrollment.UpdatedAt,
		enrollment.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}

	return nil
}

// List returns enrollments matching the filter, newest first.
func (r *EnrollmentRepository) List(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE ($1 = '' OR workflow_id::text = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR entity_type = $3)
		  AND ($4 = '' OR entity_id = $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query,
		filter.WorkflowID,
		string(filter.Status),
		filter.EntityType,
		filter.EntityID,
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return r.collectEnrollments(rows)
}

// ActiveExists reports whether the entity already has a live enrollment in
// the workflow.
func (r *EnrollmentRepository) ActiveExists(ctx context.Context, workflowID string, entity models.EntityRef) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM enrollments
			WHERE workflow_id = $1
			  AND entity_type = $2
			  AND entity_id = $3
			  AND status IN ('active', 'waiting')
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, workflowID, entity.Type, entity.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active enrollment: %w", err)
	}

	return exists, nil
}

// AcquireLease atomically claims the enrollment for the owner. The claim
// succeeds only when no lease is set or the previous lease expired.
func (r *EnrollmentRepository) AcquireLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) (*models.Enrollment, error) {
	query := `
		UPDATE enrollments
		SET lease_owner = $2,
			lease_expires_at = NOW() + $3 * INTERVAL '1 second',
			updated_at = NOW()
		WHERE id = $1
		  AND (lease_owner IS NULL OR lease_expires_at <= NOW())
		RETURNING ` + enrollmentColumns

	row := r.db.QueryRowContext(ctx, query, enrollmentID, owner, int(ttl.Seconds()))

	enrollment, err := r.scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifyClaimFailure(ctx, enrollmentID)
		}

		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) classifyClaimFailure(ctx context.Context, enrollmentID string) error {
	existing, err := r.GetByID(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to inspect enrollment after claim miss: %w", err)
	}

	if existing == nil {
		return persistence.NewEnrollmentError("AcquireLease", enrollmentID, persistence.ErrEnrollmentNotFound)
	}

	return persistence.NewEnrollmentError("AcquireLease", enrollmentID, persistence.ErrLeaseHeld)
}

// RenewLease extends a lease the owner still holds.
func (r *EnrollmentRepository) RenewLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) error {
	query := `
		UPDATE enrollments
		SET lease_expires_at = NOW() + $3 * INTERVAL '1 second',
			updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2
	`

	result, err := r.db.ExecContext(ctx, query, enrollmentID, owner, int(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewEnrollmentError("RenewLease", enrollmentID, persistence.ErrLeaseHeld)
	}

	return nil
}

// ReleaseLease clears the lease if the owner still holds it. Releasing a
// lease that already moved on is not an error.
func (r *EnrollmentRepository) ReleaseLease(ctx context.Context, enrollmentID, owner string) error {
	query := `
		UPDATE enrollments
		SET lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2
	`

	_, err := r.db.ExecContext(ctx, query, enrollmentID, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	return nil
}

// Due returns waiting enrollments whose resume threshold passed, oldest
// first, skipping rows still under a live lease.
func (r *EnrollmentRepository) Due(ctx context.Context, before time.Time, limit int) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status = 'waiting'
		  AND resume_at IS NOT NULL
		  AND resume_at <= $1
		  AND (lease_owner IS NULL OR lease_expires_at <= NOW())
		ORDER BY resume_at ASC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due enrollments: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return r.collectEnrollments(rows)
}

// Stats counts a workflow's enrollments per status.
func (r *EnrollmentRepository) Stats(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM enrollments
		WHERE workflow_id = $1
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollment stats: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	stats := make(map[models.EnrollmentStatus]int)

	for rows.Next() {
		var (
			status models.EnrollmentStatus
			count  int
		)

		err := rows.Scan(&status, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment stats: %w", err)
		}

		stats[status] = count
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollment stats: %w", err)
	}

	return stats, nil
}

func (r *EnrollmentRepository) collectEnrollments(rows *sql.Rows) ([]*models.Enrollment, error) {
	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func (r *EnrollmentRepository) scanEnrollment(scanner interface {
	Scan(dest ...any) error
}) (*models.Enrollment, error) {
	var (
		enrollment                models.Enrollment
		contextJSON, stepLogJSON  []byte
		lastErrorJSON             []byte
		currentStepID, waitReason sql.NullString
		leaseOwner, parentID      sql.NullString
	)

	err := scanner.Scan(
		&enrollment.ID,
		&enrollment.WorkflowID,
		&enrollment.Entity.Type,
		&enrollment.Entity.ID,
		&enrollment.Status,
		&currentStepID,
		&contextJSON,
		&stepLogJSON,
		&enrollment.Attempt,
		&enrollment.ResumeAt,
		&enrollment.WaitingSince,
		&waitReason,
		&lastErrorJSON,
		&leaseOwner,
		&enrollment.LeaseExpiresAt,
		&parentID,
		&enrollment.CreatedAt,
		&enrollment.UpdatedAt,
		&enrollment.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	enrollment.CurrentStepID = currentStepID.String
	enrollment.WaitReason = models.WaitReason(waitReason.String)
	enrollment.LeaseOwner = leaseOwner.String
	enrollment.ParentEnrollmentID = parentID.String

	if contextJSON != nil {
		err := json.Unmarshal(contextJSON, &enrollment.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	if stepLogJSON != nil {
		err := json.Unmarshal(stepLogJSON, &enrollment.StepLog)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step log: %w", err)
		}
	}

	if lastErrorJSON != nil {
		err := json.Unmarshal(lastErrorJSON, &enrollment.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal last error: %w", err)
		}
	}

	return &enrollment, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}

	return value
}
