package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/mocks"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence/file"
	"github.com/journeyhq/journey/pkg/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type capturedEvent struct {
	key   string
	event eventbus.Event
}

type stubPublisher struct {
	mu       sync.Mutex
	captured []capturedEvent
	err      error
}

func (s *stubPublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.captured = append(s.captured, capturedEvent{key: key, event: event})

	return nil
}

func waitingEnrollment(workflowID string, resumeAt time.Time, reason models.WaitReason) *models.Enrollment {
	enrollment := models.NewEnrollment(workflowID, models.EntityRef{Type: "contact", ID: "c-1"})
	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.ResumeAt = &resumeAt
	enrollment.WaitReason = reason

	return enrollment
}

func TestSweepPublishesDueWakeups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	delayed := waitingEnrollment("wf-1", time.Now().UTC().Add(-10*time.Minute), models.WaitReasonDelay)
	retried := waitingEnrollment("wf-1", time.Now().UTC().Add(-time.Minute), models.WaitReasonRetry)
	future := waitingEnrollment("wf-1", time.Now().UTC().Add(time.Hour), models.WaitReasonDelay)

	for _, enrollment := range []*models.Enrollment{delayed, retried, future} {
		require.NoError(t, persist.SaveEnrollment(ctx, enrollment))
	}

	publisher := &stubPublisher{}
	sweeper := scheduler.NewSweeper(persist, publisher, testLogger())

	published, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)

	require.Len(t, publisher.captured, 2)

	// Oldest resume_at first.
	first, ok := publisher.captured[0].event.(events.EnrollmentResumed)
	require.True(t, ok)
	assert.Equal(t, delayed.ID, first.EnrollmentID)
	assert.Equal(t, "delay", first.WakeReason)
	assert.Equal(t, delayed.ID, publisher.captured[0].key)

	second, ok := publisher.captured[1].event.(events.EnrollmentResumed)
	require.True(t, ok)
	assert.Equal(t, retried.ID, second.EnrollmentID)
	assert.Equal(t, "retry", second.WakeReason)
}

func TestSweepSkipsLeasedEnrollments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	leased := waitingEnrollment("wf-1", time.Now().UTC().Add(-time.Minute), models.WaitReasonDelay)
	require.NoError(t, persist.SaveEnrollment(ctx, leased))

	_, err := persist.AcquireLease(ctx, leased.ID, "worker-9", time.Minute)
	require.NoError(t, err)

	publisher := &stubPublisher{}
	sweeper := scheduler.NewSweeper(persist, publisher, testLogger())

	published, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Empty(t, publisher.captured)
}

func TestSweepPublishFailureDoesNotAbortPass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	due := waitingEnrollment("wf-1", time.Now().UTC().Add(-time.Minute), models.WaitReasonDelay)
	require.NoError(t, persist.SaveEnrollment(ctx, due))

	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	sweeper := scheduler.NewSweeper(persist, publisher, testLogger())

	published, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)

	// The marker stays due for the next pass.
	stored, err := persist.EnrollmentByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaiting, stored.Status)
}

func TestSweepStorageFailure(t *testing.T) {
	t.Parallel()

	mockPersistence := &mocks.MockPersistence{}
	mockPersistence.On("DueEnrollments", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	sweeper := scheduler.NewSweeper(mockPersistence, &stubPublisher{}, testLogger())

	published, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, published)
}

func TestSweepHonorsBatchSize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := file.NewPersistence(t.TempDir())

	for range 3 {
		due := waitingEnrollment("wf-1", time.Now().UTC().Add(-time.Minute), models.WaitReasonDelay)
		require.NoError(t, persist.SaveEnrollment(ctx, due))
	}

	publisher := &stubPublisher{}
	sweeper := scheduler.NewSweeper(persist, publisher, testLogger())
	sweeper.BatchSize = 2

	published, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)
}
