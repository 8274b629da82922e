// Package scheduler wakes suspended enrollments whose resume time passed.
// Delay and retry suspensions both persist a resume_at marker; the sweeper
// turns due markers into enrollment.resumed events for the workers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/persistence"
)

const (
	defaultInterval  = 15 * time.Second
	defaultBatchSize = 100
)

// Sweeper periodically selects waiting enrollments with a due resume_at and
// publishes a wake-up event for each. Threshold selection (resume_at <= now)
// also catches wake-ups missed during downtime; enrollments under a live
// lease are left to the worker that holds them.
type Sweeper struct {
	// Interval and BatchSize are knobs; NewSweeper fills defaults.
	Interval  time.Duration
	BatchSize int

	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	cron        *cron.Cron
}

func NewSweeper(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		Interval:    defaultInterval,
		BatchSize:   defaultBatchSize,
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "sweeper"),
	}
}

// Start runs one immediate sweep, then sweeps on the configured interval
// until Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting enrollment sweeper", "interval", s.Interval)

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Initial sweep failed", "error", err)
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.Interval), func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep job: %w", err)
	}

	s.cron.Start()

	return nil
}

func (s *Sweeper) Stop(ctx context.Context) {
	s.logger.InfoContext(ctx, "Stopping enrollment sweeper")

	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one pass and returns how many wake-ups it published. A publish
// failure for one enrollment does not abort the pass; the marker stays due
// and the next sweep retries it.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.persistence.DueEnrollments(ctx, time.Now().UTC(), s.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due enrollments: %w", err)
	}

	published := 0

	for _, enrollment := range due {
		event := events.EnrollmentResumed{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentResumedEvent, enrollment.WorkflowID),
			EnrollmentID: enrollment.ID,
			WakeReason:   string(enrollment.WaitReason),
		}

		err := s.publisher.Publish(ctx, enrollment.ID, event)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish wake-up",
				"enrollment_id", enrollment.ID,
				"error", err)

			continue
		}

		published++

		s.logger.DebugContext(ctx, "Enrollment woken",
			"enrollment_id", enrollment.ID,
			"workflow_id", enrollment.WorkflowID,
			"wake_reason", enrollment.WaitReason,
			"resume_at", enrollment.ResumeAt)
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Sweep finished", "due", len(due), "published", published)
	}

	return published, nil
}
