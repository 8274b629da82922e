package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/otelhelper"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/workflow"
)

type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	runner      *workflow.Runner
	tracer      trace.Tracer
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	registry *registry.Registry,
	records protocol.RecordStore,
	reasoning protocol.ReasoningClient,
) *WorkerManager {
	interpreter := workflow.NewInterpreter(logger, registry, records, reasoning, persistence)

	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "journey-worker", "worker_id", id),
		persistence: persistence,
		eventBus:    eventBus,
		runner:      workflow.NewRunner(id, persistence, interpreter, logger),
		tracer:      otel.Tracer("journey-worker"),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	err := w.eventBus.Handle(events.EnrollmentCreatedEvent, w.handleEnrollmentCreated)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.EnrollmentResumedEvent, w.handleEnrollmentResumed)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleEnrollmentCreated(ctx context.Context, event any) error {
	createdEvent, ok := event.(*events.EnrollmentCreated)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EnrollmentCreated")

		return nil
	}

	logger := w.logger.With(
		"enrollment_id", createdEvent.EnrollmentID,
		"workflow_id", createdEvent.WorkflowID,
		"event_id", createdEvent.ID,
	)
	logger.InfoContext(ctx, "Processing enrollment created event")

	return w.runEnrollment(ctx, logger, createdEvent.EnrollmentID, createdEvent.WorkflowID)
}

func (w *WorkerManager) handleEnrollmentResumed(ctx context.Context, event any) error {
	resumedEvent, ok := event.(*events.EnrollmentResumed)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EnrollmentResumed")

		return nil
	}

	logger := w.logger.With(
		"enrollment_id", resumedEvent.EnrollmentID,
		"workflow_id", resumedEvent.WorkflowID,
		"wake_reason", resumedEvent.WakeReason,
	)
	logger.InfoContext(ctx, "Processing enrollment resumed event")

	return w.runEnrollment(ctx, logger, resumedEvent.EnrollmentID, resumedEvent.WorkflowID)
}

// runEnrollment executes one turn of the enrollment and publishes whatever
// lifecycle events the turn produced, keyed by enrollment ID so consumers
// observe them in order.
func (w *WorkerManager) runEnrollment(ctx context.Context, logger *slog.Logger, enrollmentID, workflowID string) error {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "enrollment.run",
		attribute.String(otelhelper.EnrollmentIDKey, enrollmentID),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	eventsToPublish, err := w.runner.RunEnrollment(ctx, enrollmentID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to run enrollment", "error", err)
		otelhelper.SetError(span, err)

		return err
	}

	for _, event := range eventsToPublish {
		publishErr := w.eventBus.Publish(ctx, enrollmentID, event)
		if publishErr != nil {
			logger.ErrorContext(ctx, "Failed to publish enrollment event", "error", publishErr, "event", event)

			return publishErr
		}
	}

	return nil
}
