// Package mocks provides testify mocks of the journey interfaces for use in
// service and binary tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
)

// MockPersistence is a mock implementation of the persistence.Persistence
// interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockPersistence) WorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockPersistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockPersistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockPersistence) DeleteWorkflow(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	args := m.Called(ctx, enrollment)

	return args.Error(0)
}

func (m *MockPersistence) Enrollments(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.Enrollment, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) ActiveEnrollmentExists(ctx context.Context, workflowID string, entity models.EntityRef) (bool, error) {
	args := m.Called(ctx, workflowID, entity)

	return args.Bool(0), args.Error(1)
}

func (m *MockPersistence) AcquireLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) (*models.Enrollment, error) {
	args := m.Called(ctx, enrollmentID, owner, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) RenewLease(ctx context.Context, enrollmentID, owner string, ttl time.Duration) error {
	args := m.Called(ctx, enrollmentID, owner, ttl)

	return args.Error(0)
}

func (m *MockPersistence) ReleaseLease(ctx context.Context, enrollmentID, owner string) error {
	args := m.Called(ctx, enrollmentID, owner)

	return args.Error(0)
}

func (m *MockPersistence) DueEnrollments(ctx context.Context, before time.Time, limit int) ([]*models.Enrollment, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockPersistence) EnrollmentStats(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[models.EnrollmentStatus]int), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
