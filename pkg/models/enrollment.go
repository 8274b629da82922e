package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus represents the lifecycle state of one enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusWaiting   EnrollmentStatus = "waiting"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
	EnrollmentStatusCanceled  EnrollmentStatus = "canceled"
)

// WaitReason distinguishes why a waiting enrollment suspended.
type WaitReason string

const (
	WaitReasonDelay WaitReason = "delay"
	WaitReasonRetry WaitReason = "retry"
)

// EntityRef identifies the business record an enrollment runs against.
type EntityRef struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id"   validate:"required"`
}

// DataContext is the sole channel of information between steps: variables set
// explicitly by steps, and every step's recorded output keyed by step id.
// Entries are appended or overwritten, never deleted.
type DataContext struct {
	Variables   map[string]any `json:"variables"`
	StepOutputs map[string]any `json:"step_outputs"`
}

// NewDataContext returns an empty context.
func NewDataContext() *DataContext {
	return &DataContext{
		Variables:   make(map[string]any),
		StepOutputs: make(map[string]any),
	}
}

// SetVariable binds a variable, overwriting any previous value.
func (dc *DataContext) SetVariable(name string, value any) {
	if dc.Variables == nil {
		dc.Variables = make(map[string]any)
	}

	dc.Variables[name] = value
}

// SetStepOutput records a step's output, overwriting any previous value.
func (dc *DataContext) SetStepOutput(stepID string, value any) {
	if dc.StepOutputs == nil {
		dc.StepOutputs = make(map[string]any)
	}

	dc.StepOutputs[stepID] = value
}

// Clone returns a deep copy through a JSON round trip. Parallel branches
// must never share the parent's context object.
func (dc *DataContext) Clone() *DataContext {
	clone := NewDataContext()

	raw, err := json.Marshal(dc)
	if err != nil {
		return clone
	}

	_ = json.Unmarshal(raw, clone)

	if clone.Variables == nil {
		clone.Variables = make(map[string]any)
	}

	if clone.StepOutputs == nil {
		clone.StepOutputs = make(map[string]any)
	}

	return clone
}

// StepLogEntry is one record of the ordered execution log.
type StepLogEntry struct {
	StepID     string    `json:"step_id"`
	Type       StepType  `json:"type"`
	Outcome    string    `json:"outcome"` // completed | failed | suspended
	Branch     string    `json:"branch,omitempty"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Step log outcomes.
const (
	StepOutcomeCompleted = "completed"
	StepOutcomeFailed    = "failed"
	StepOutcomeSuspended = "suspended"
)

// Enrollment is one execution instance of a workflow against one business
// record. At most one worker may hold its lease at a time.
type Enrollment struct {
	ID            string           `json:"id"`
	WorkflowID    string           `json:"workflow_id"`
	Entity        EntityRef        `json:"entity"`
	Status        EnrollmentStatus `json:"status"`
	CurrentStepID string           `json:"current_step_id,omitempty"`
	Context       *DataContext     `json:"context"`
	StepLog       []StepLogEntry   `json:"step_log,omitempty"`

	// Attempt counts executions of the current step, reset on advance.
	Attempt int `json:"attempt"`

	// ResumeAt is set while the enrollment is waiting; WaitingSince records
	// entry into the current delay step so mid-wait re-targeting can
	// recompute from the original entry time.
	ResumeAt     *time.Time `json:"resume_at,omitempty"`
	WaitingSince *time.Time `json:"waiting_since,omitempty"`
	WaitReason   WaitReason `json:"wait_reason,omitempty"`

	LastError *StepError `json:"last_error,omitempty"`

	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// ParentEnrollmentID links sub-workflow child enrollments to their parent.
	ParentEnrollmentID string `json:"parent_enrollment_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewEnrollment creates an active enrollment positioned at no step yet; the
// runner moves it to the trigger step's continuation on first execution.
func NewEnrollment(workflowID string, entity EntityRef) *Enrollment {
	now := time.Now().UTC()

	return &Enrollment{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Entity:     entity,
		Status:     EnrollmentStatusActive,
		Context:    NewDataContext(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsTerminal reports whether the enrollment reached a terminal state.
func (e *Enrollment) IsTerminal() bool {
	switch e.Status {
	case EnrollmentStatusCompleted, EnrollmentStatusFailed, EnrollmentStatusCanceled:
		return true
	default:
		return false
	}
}

// ClearWait resets the suspension bookkeeping when an enrollment resumes
// active execution.
func (e *Enrollment) ClearWait() {
	e.ResumeAt = nil
	e.WaitingSince = nil
	e.WaitReason = ""
}
