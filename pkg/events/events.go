// Package events defines the engine's lifecycle notifications and the
// incoming business-record feed model.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/journeyhq/journey/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "journey.events"            // Engine lifecycle events
const RecordFeedTopic = "journey.records" // Incoming business record events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Enrollment lifecycle events.
	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentResumedEvent   EventType = "enrollment.resumed"
	EnrollmentSuspendedEvent EventType = "enrollment.suspended"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
	EnrollmentCanceledEvent  EventType = "enrollment.canceled"

	// Step granularity events.
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"

	// Workflow definition lifecycle events.
	WorkflowActivatedEvent EventType = "workflow.activated"
	WorkflowPausedEvent    EventType = "workflow.paused"
	WorkflowArchivedEvent  EventType = "workflow.archived"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// EnrollmentCreated is published by the dispatcher after a record event
// matched a trigger and an enrollment row was persisted. Workers treat it
// as a wake-up call.
type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID  string           `json:"enrollment_id"`
	Entity        models.EntityRef `json:"entity"`
	RecordEventID string           `json:"record_event_id,omitempty"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

// EnrollmentResumed is published by the scheduler when an enrollment's
// resume_at threshold passed, and by the API on a manual resume.
type EnrollmentResumed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WakeReason   string `json:"wake_reason"`
}

func (e EnrollmentResumed) GetType() EventType {
	return EnrollmentResumedEvent
}

type EnrollmentSuspended struct {
	BaseEvent

	EnrollmentID string    `json:"enrollment_id"`
	StepID       string    `json:"step_id"`
	ResumeAt     time.Time `json:"resume_at"`
	WaitReason   string    `json:"wait_reason"`
}

func (e EnrollmentSuspended) GetType() EventType {
	return EnrollmentSuspendedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID  string `json:"enrollment_id"`
	StepsExecuted int    `json:"steps_executed"`
	DurationMs    int64  `json:"duration_ms"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	Error        string `json:"error"`
	ErrorKind    string `json:"error_kind"`
	Attempt      int    `json:"attempt"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

type EnrollmentCanceled struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CanceledBy   string `json:"canceled_by,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func (e EnrollmentCanceled) GetType() EventType {
	return EnrollmentCanceledEvent
}

type StepCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	StepType     string `json:"step_type"`
	Branch       string `json:"branch,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	StepType     string `json:"step_type"`
	Attempt      int    `json:"attempt"`
	Error        string `json:"error"`
	ErrorKind    string `json:"error_kind"`
	WillRetry    bool   `json:"will_retry"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type WorkflowActivated struct {
	BaseEvent

	ActivatedBy string `json:"activated_by,omitempty"`
}

func (e WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

type WorkflowPaused struct {
	BaseEvent

	PausedBy string `json:"paused_by,omitempty"`
}

func (e WorkflowPaused) GetType() EventType {
	return WorkflowPausedEvent
}

type WorkflowArchived struct {
	BaseEvent

	ArchivedBy string `json:"archived_by,omitempty"`
}

func (e WorkflowArchived) GetType() EventType {
	return WorkflowArchivedEvent
}
