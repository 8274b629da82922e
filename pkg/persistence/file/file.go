// Package file provides file-based persistence for local development and
// tests. Workflows and enrollments are stored as one JSON document each.
// Lease atomicity is guarded by an in-process mutex, so this backend is
// only safe for a single process.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. Accepts plain paths and file:// URLs.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

func (fp *Persistence) workflowPath(id string) string {
	return filepath.Join(fp.root, "workflows", id+".json")
}

func (fp *Persistence) enrollmentPath(id string) string {
	return filepath.Join(fp.root, "enrollments", id+".json")
}

// Close performs any necessary cleanup. Nothing to clean up for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	_, err := os.Stat(fp.root)
	if os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Workflows returns all stored workflows, newest first.
func (fp *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.loadWorkflows(ctx)
}

// WorkflowsByStatus returns workflows with the given status.
func (fp *Persistence) WorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	workflows, err := fp.loadWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.Status == status {
			filtered = append(filtered, workflow)
		}
	}

	return filtered, nil
}

// WorkflowByID returns a workflow, or nil when it does not exist.
func (fp *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return readDocument[models.Workflow](fp.workflowPath(id))
}

// SaveWorkflow writes the workflow document.
func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return writeDocument(fp.workflowPath(workflow.ID), workflow)
}

// DeleteWorkflow removes the workflow document.
func (fp *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.Remove(fp.workflowPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow file: %w", err)
	}

	return nil
}

// EnrollmentByID returns an enrollment, or nil when it does not exist.
func (fp *Persistence) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return readDocument[models.Enrollment](fp.enrollmentPath(id))
}

// SaveEnrollment writes the enrollment document.
func (fp *Persistence) SaveEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.saveEnrollmentLocked(enrollment)
}

func (fp *Persistence) saveEnrollmentLocked(enrollment *models.Enrollment) error {
	now := time.Now().UTC()

	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}

	enrollment.UpdatedAt = now

	return writeDocument(fp.enrollmentPath(enrollment.ID), enrollment)
}

// Enrollments returns stored enrollments matching the filter, newest first.
func (fp *Persistence) Enrollments(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.Enrollment, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	all, err := fp.loadEnrollments(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Enrollment, 0, len(all))

	for _, enrollment := range all {
		if filter.WorkflowID != "" && enrollment.WorkflowID != filter.WorkflowID {
			continue
		}

		if filter.Status != "" && enrollment.Status != filter.Status {
			continue
		}

		if filter.EntityType != "" && enrollment.Entity.Type != filter.EntityType {
			continue
		}

		if filter.EntityID != "" && enrollment.Entity.ID != filter.EntityID {
			continue
		}

		filtered = append(filtered, enrollment)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	start := filter.Offset
	if start >= len(filtered) {
		return []*models.Enrollment{}, nil
	}

	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[start:end], nil
}

// ActiveEnrollmentExists reports whether the entity has a live enrollment
// in the workflow.
func (fp *Persistence) ActiveEnrollmentExists(ctx context.Context, workflowID string, entity models.EntityRef) (bool, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	all, err := fp.loadEnrollments(ctx)
	if err != nil {
		return false, err
	}

	for _, enrollment := range all {
		if enrollment.WorkflowID != workflowID || enrollment.Entity != entity {
			continue
		}

		if enrollment.Status == models.EnrollmentStatusActive || enrollment.Status == models.EnrollmentStatusWaiting {
			return true, nil
		}
	}

	return false, nil
}

// AcquireLease claims the enrollment for the owner if no live lease exists.
func (fp *Persistence) AcquireLease(_ context.Context, enrollmentID, owner string, ttl time.Duration) (*models.Enrollment, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	enrollment, err := readDocument[models.Enrollment](fp.enrollmentPath(enrollmentID))
	if err != nil {
		return nil, err
	}

	if enrollment == nil {
		return nil, persistence.NewEnrollmentError("AcquireLease", enrollmentID, persistence.ErrEnrollmentNotFound)
	}

	now := time.Now().UTC()

	if enrollment.LeaseOwner != "" && enrollment.LeaseExpiresAt != nil && enrollment.LeaseExpiresAt.After(now) {
		return nil, persistence.NewEnrollmentError("AcquireLease", enrollmentID, persistence.ErrLeaseHeld)
	}

	expiry := now.Add(ttl)
	enrollment.LeaseOwner = owner
	enrollment.LeaseExpiresAt = &expiry

	err = fp.saveEnrollmentLocked(enrollment)
	if err != nil {
		return nil, err
	}

	return enrollment, nil
}

// RenewLease extends a lease the owner still holds.
func (fp *Persistence) RenewLease(_ context.Context, enrollmentID, owner string, ttl time.Duration) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	enrollment, err := readDocument[models.Enrollment](fp.enrollmentPath(enrollmentID))
	if err != nil {
		return err
	}

	if enrollment == nil || enrollment.LeaseOwner != owner {
		return persistence.NewEnrollmentError("RenewLease", enrollmentID, persistence.ErrLeaseHeld)
	}

	expiry := time.Now().UTC().Add(ttl)
	enrollment.LeaseExpiresAt = &expiry

	return fp.saveEnrollmentLocked(enrollment)
}

// ReleaseLease clears a lease the owner holds.
func (fp *Persistence) ReleaseLease(_ context.Context, enrollmentID, owner string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	enrollment, err := readDocument[models.Enrollment](fp.enrollmentPath(enrollmentID))
	if err != nil {
		return err
	}

	if enrollment == nil || enrollment.LeaseOwner != owner {
		return nil
	}

	enrollment.LeaseOwner = ""
	enrollment.LeaseExpiresAt = nil

	return fp.saveEnrollmentLocked(enrollment)
}

// DueEnrollments returns waiting enrollments whose resume threshold
// passed, oldest first.
func (fp *Persistence) DueEnrollments(ctx context.Context, before time.Time, limit int) ([]*models.Enrollment, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	all, err := fp.loadEnrollments(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	due := make([]*models.Enrollment, 0)

	for _, enrollment := range all {
		if enrollment.Status != models.EnrollmentStatusWaiting || enrollment.ResumeAt == nil {
			continue
		}

		if enrollment.ResumeAt.After(before) {
			continue
		}

		if enrollment.LeaseOwner != "" && enrollment.LeaseExpiresAt != nil && enrollment.LeaseExpiresAt.After(now) {
			continue
		}

		due = append(due, enrollment)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ResumeAt.Before(*due[j].ResumeAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// EnrollmentStats counts a workflow's enrollments per status.
func (fp *Persistence) EnrollmentStats(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	all, err := fp.loadEnrollments(ctx)
	if err != nil {
		return nil, err
	}

	stats := make(map[models.EnrollmentStatus]int)

	for _, enrollment := range all {
		if enrollment.WorkflowID == workflowID {
			stats[enrollment.Status]++
		}
	}

	return stats, nil
}

func (fp *Persistence) loadWorkflows(_ context.Context) ([]*models.Workflow, error) {
	ids, err := listDocumentIDs(filepath.Join(fp.root, "workflows"))
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := readDocument[models.Workflow](fp.workflowPath(id))
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		if workflow != nil {
			workflows = append(workflows, workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (fp *Persistence) loadEnrollments(_ context.Context) ([]*models.Enrollment, error) {
	ids, err := listDocumentIDs(filepath.Join(fp.root, "enrollments"))
	if err != nil {
		return nil, err
	}

	enrollments := make([]*models.Enrollment, 0, len(ids))

	for _, id := range ids {
		enrollment, err := readDocument[models.Enrollment](fp.enrollmentPath(id))
		if err != nil {
			return nil, fmt.Errorf("failed to load enrollment %s: %w", id, err)
		}

		if enrollment != nil {
			enrollments = append(enrollments, enrollment)
		}
	}

	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].CreatedAt.After(enrollments[j].CreatedAt)
	})

	return enrollments, nil
}

func listDocumentIDs(dir string) ([]string, error) {
	_, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", dir, err)
	}

	ids := make([]string, 0, len(files))

	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

func readDocument[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc T

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return &doc, nil
}

func writeDocument(path string, doc any) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
