package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/workflow"
)

// Dispatcher consumes the record-event feed and enrolls matching records
// into active workflows. It owns enrollment admission: trigger matching,
// the re-enrollment guard and publishing the EnrollmentCreated wake-up
// that hands the new enrollment to the workers.
type Dispatcher struct {
	id           string
	eventBus     eventbus.EventBus
	feedBus      eventbus.FeedBus
	webhook      protocol.FeedSource
	matcher      *workflow.TriggerMatcher
	persistence  persistence.Persistence
	logger       *slog.Logger
	restartCount int
}

// NewDispatcher creates a new Dispatcher instance. The webhook feed source
// is optional; when nil only the feed bus delivers record events.
func NewDispatcher(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	feedBus eventbus.FeedBus,
	webhook protocol.FeedSource,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		id:          id,
		eventBus:    eventBus,
		feedBus:     feedBus,
		webhook:     webhook,
		matcher:     workflow.NewTriggerMatcher(logger),
		persistence: persistence,
		logger:      logger.With("module", "journey-dispatcher", "dispatcher_id", id),
	}
}

// Start begins the dispatcher service.
func (d *Dispatcher) Start(ctx context.Context) {
	dCtx, cancel := context.WithCancel(ctx)

	d.logger.InfoContext(dCtx, "Starting dispatcher")

	d.signals(dCtx, cancel)
	d.run(dCtx, cancel)
	d.logger.InfoContext(dCtx, "Dispatcher stopped")
}

const restartLimit = 5

// restart tears the service down and starts it again with linear backoff.
// After restartLimit attempts the process exits and leaves recovery to the
// supervisor.
func (d *Dispatcher) restart(ctx context.Context, cancel context.CancelFunc) {
	d.restartCount++
	newCtx := context.WithoutCancel(ctx)

	d.stop(ctx, cancel)

	if d.restartCount > restartLimit {
		d.logger.ErrorContext(ctx, "Restart limit reached, exiting...")
		os.Exit(1)
	}

	backoff := time.Duration(d.restartCount) * time.Second
	d.logger.InfoContext(ctx, "Restarting dispatcher...", "backoff", backoff)
	time.Sleep(backoff)

	d.Start(newCtx)
}

func (d *Dispatcher) signals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		d.logger.InfoContext(ctx, "Received signal", "signal", sig)

		switch sig {
		case syscall.SIGHUP:
			d.logger.InfoContext(ctx, "Reloading configuration...")
			d.restart(ctx, cancel)
		case syscall.SIGINT, syscall.SIGTERM:
			d.logger.InfoContext(ctx, "Shutting down gracefully...")
			d.stop(ctx, cancel)
			os.Exit(0)
		default:
			d.logger.WarnContext(ctx, "Unhandled signal received", "signal", sig)
		}
	}()
}

// run subscribes to the record feed and blocks until the context is
// canceled. The subscription itself runs in background goroutines.
func (d *Dispatcher) run(ctx context.Context, cancel context.CancelFunc) {
	if d.webhook != nil {
		go func() {
			if err := d.webhook.Start(ctx, d.ingestRecordEvent); err != nil {
				d.logger.ErrorContext(ctx, "Webhook feed source failed", "error", err)
			}
		}()
	}

	err := d.feedBus.HandleRecordEvents(d.handleRecordEvent)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to register record event handler", "error", err)
		d.restart(ctx, cancel)

		return
	}

	err = d.feedBus.SubscribeToRecordEvents(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to subscribe to record event feed", "error", err)
		d.logger.InfoContext(ctx, "Retrying in 5 seconds...")

		time.Sleep(5 * time.Second)

		d.restart(ctx, cancel)

		return
	}

	d.logger.InfoContext(ctx, "Subscribed to record event feed - waiting for events...")

	<-ctx.Done()
	d.logger.InfoContext(ctx, "Dispatcher context cancelled, stopping...")
}

// ingestRecordEvent adapts webhook deliveries to the feed handler.
func (d *Dispatcher) ingestRecordEvent(ctx context.Context, event events.RecordEvent) error {
	return d.handleRecordEvent(ctx, &event)
}

// handleRecordEvent matches one record event against the active workflows
// and enrolls the record into every workflow whose trigger it satisfies. A
// failed enrollment in one workflow never blocks the others.
func (d *Dispatcher) handleRecordEvent(ctx context.Context, event *events.RecordEvent) error {
	logger := d.logger.With(
		"record_event_id", event.ID,
		"event_type", event.Type,
		"entity_type", event.Entity.Type,
		"entity_id", event.Entity.ID,
	)

	logger.InfoContext(ctx, "Processing record event")

	workflows, err := d.persistence.WorkflowsByStatus(ctx, models.WorkflowStatusActive)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to fetch active workflows", "error", err)

		return err
	}

	matches := d.matcher.MatchWorkflows(event, workflows)

	for _, wf := range matches {
		if err := d.enroll(ctx, wf, event); err != nil {
			logger.ErrorContext(ctx, "Failed to enroll entity",
				"workflow_id", wf.ID,
				"error", err)
		}
	}

	return nil
}

// enroll creates an enrollment for the event's entity in one workflow and
// publishes the EnrollmentCreated wake-up, keyed by enrollment ID. Unless
// the workflow allows re-enrollment, an entity with a live enrollment is
// skipped rather than enrolled twice.
func (d *Dispatcher) enroll(ctx context.Context, wf *models.Workflow, event *events.RecordEvent) error {
	logger := d.logger.With(
		"workflow_id", wf.ID,
		"entity_type", event.Entity.Type,
		"entity_id", event.Entity.ID,
	)

	if !wf.Settings.AllowReenrollment {
		exists, err := d.persistence.ActiveEnrollmentExists(ctx, wf.ID, event.Entity)
		if err != nil {
			return fmt.Errorf("failed to check live enrollments: %w", err)
		}

		if exists {
			logger.InfoContext(ctx, "Entity already has a live enrollment, skipping")

			return nil
		}
	}

	enrollment := models.NewEnrollment(wf.ID, event.Entity)
	for name, value := range event.Data {
		enrollment.Context.SetVariable(name, value)
	}

	if err := d.persistence.SaveEnrollment(ctx, enrollment); err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}

	created := events.EnrollmentCreated{
		BaseEvent:     events.NewBaseEvent(events.EnrollmentCreatedEvent, wf.ID),
		EnrollmentID:  enrollment.ID,
		Entity:        event.Entity,
		RecordEventID: event.ID,
	}

	if err := d.eventBus.Publish(ctx, enrollment.ID, created); err != nil {
		return fmt.Errorf("failed to publish enrollment created event: %w", err)
	}

	logger.With("enrollment_id", enrollment.ID).InfoContext(ctx, "Enrolled entity")

	return nil
}

// stop gracefully shuts down the dispatcher.
func (d *Dispatcher) stop(ctx context.Context, cancel context.CancelFunc) {
	d.logger.InfoContext(ctx, "Stopping dispatcher")
	cancel()

	if d.webhook != nil {
		if err := d.webhook.Stop(context.WithoutCancel(ctx)); err != nil {
			d.logger.ErrorContext(ctx, "Error stopping webhook feed source", "error", err)
		}
	}
}
