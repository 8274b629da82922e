package models

import (
	"encoding/json"
	"fmt"
)

// StepType discriminates the step variants of a workflow graph.
type StepType string

const (
	StepTypeTrigger     StepType = "trigger"
	StepTypeAction      StepType = "action"
	StepTypeDelay       StepType = "delay"
	StepTypeCondition   StepType = "condition"
	StepTypeLoop        StepType = "loop"
	StepTypeParallel    StepType = "parallel"
	StepTypeTryCatch    StepType = "try_catch"
	StepTypeSubWorkflow StepType = "sub_workflow"
	StepTypeAIAgent     StepType = "ai_agent"
)

// Reserved branch labels on outgoing edges. Parallel steps use free-form
// branch ids in addition to "next".
const (
	BranchNext     = "next"
	BranchYes      = "yes"
	BranchNo       = "no"
	BranchLoopBody = "loop-body"
	BranchLoopDone = "loop-done"
	BranchTry      = "try"
	BranchError    = "error"
)

// Edge is a labeled outgoing connection from a step to another step.
type Edge struct {
	Branch string `json:"branch" validate:"required"`
	To     string `json:"to"     validate:"required"`
}

// Step is one node of the workflow graph: a type tag, type-specific
// configuration, and labeled outgoing edges.
type Step struct {
	ID     string         `json:"id"             validate:"required"`
	Name   string         `json:"name,omitempty"`
	Type   StepType       `json:"type"           validate:"required"`
	Config map[string]any `json:"config,omitempty"`
	Edges  []Edge         `json:"edges,omitempty"`
}

// EdgeTo returns the target of the edge with the given branch label.
func (s *Step) EdgeTo(branch string) (string, bool) {
	for _, edge := range s.Edges {
		if edge.Branch == branch {
			return edge.To, true
		}
	}

	return "", false
}

// BranchEdges returns the free-form branch edges of a parallel step,
// excluding the reserved "next" continuation.
func (s *Step) BranchEdges() []Edge {
	edges := make([]Edge, 0, len(s.Edges))

	for _, edge := range s.Edges {
		if edge.Branch != BranchNext {
			edges = append(edges, edge)
		}
	}

	return edges
}

// DecodeConfig unmarshals the step's raw configuration into a typed config
// struct through a JSON round trip.
func (s *Step) DecodeConfig(v any) error {
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal step %s config: %w", s.ID, err)
	}

	err = json.Unmarshal(raw, v)
	if err != nil {
		return fmt.Errorf("failed to decode step %s config: %w", s.ID, err)
	}

	return nil
}

// TriggerConfig filters record events for trigger steps.
type TriggerConfig struct {
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	Filters    map[string]any `json:"filters,omitempty"` // payload field -> required value
}

// ActionConfig selects and configures a registered action executor.
type ActionConfig struct {
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params,omitempty"`
	ResultVar  string         `json:"result_var,omitempty"`
}

// DelayKind selects how a delay step computes its wake time.
type DelayKind string

const (
	DelayKindDuration DelayKind = "duration" // wait a fixed number of seconds
	DelayKindUntil    DelayKind = "until"    // wait until an RFC3339 instant
	DelayKindAt       DelayKind = "at"       // wait until the next occurrence of a clock time
	DelayKindWeekday  DelayKind = "weekday"  // wait until the next occurrence of a weekday
)

// DelayConfig configures a delay step.
type DelayConfig struct {
	Kind    DelayKind `json:"kind"`
	Seconds int       `json:"seconds,omitempty"`
	Until   string    `json:"until,omitempty"`   // RFC3339
	At      string    `json:"at,omitempty"`      // "15:04", UTC
	Weekday string    `json:"weekday,omitempty"` // "monday".."sunday"
}

// ConditionOperator enumerates the comparison operators of condition steps.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorIsEmpty     ConditionOperator = "is_empty"
	OperatorIsNotEmpty  ConditionOperator = "is_not_empty"
	OperatorIsTrue      ConditionOperator = "is_true"
	OperatorIsFalse     ConditionOperator = "is_false"
)

// ConditionConfig configures a condition step. Left and Right are templates
// resolved before comparison; unary operators ignore Right.
type ConditionConfig struct {
	Left     string            `json:"left"`
	Operator ConditionOperator `json:"operator"`
	Right    string            `json:"right,omitempty"`
}

// LoopConfig configures a loop step iterating a resolved sequence.
type LoopConfig struct {
	Source        string `json:"source"`
	ItemVar       string `json:"item_var,omitempty"`
	IndexVar      string `json:"index_var,omitempty"`
	ResultVar     string `json:"result_var,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"` // 0 or 1 means sequential
}

// Parallel join modes.
const (
	JoinWaitAll       = "wait_all"
	JoinFirstComplete = "first_complete"
)

// ParallelConfig configures a parallel fan-out step.
type ParallelConfig struct {
	Join      string `json:"join,omitempty"` // wait_all (default) or first_complete
	ResultVar string `json:"result_var,omitempty"`
}

// TryCatchConfig configures a try/catch step wrapping a nested sub-graph.
type TryCatchConfig struct {
	// RetryAttempts re-runs the try branch on failure before routing to the
	// error branch. Zero means no in-step retries.
	RetryAttempts int `json:"retry_attempts,omitempty"`
}

// SubWorkflowConfig configures a nested workflow invocation.
type SubWorkflowConfig struct {
	WorkflowID string         `json:"workflow_id"`
	Variables  map[string]any `json:"variables,omitempty"` // seed for the child context
	ResultVar  string         `json:"result_var,omitempty"`
}

// AIAgentConfig configures a reasoning-service call step.
type AIAgentConfig struct {
	Prompt           string `json:"prompt"`
	IncludeEntity    bool   `json:"include_entity,omitempty"`
	IncludeVariables bool   `json:"include_variables,omitempty"`
	ResultVar        string `json:"result_var"`
	ParseJSON        bool   `json:"parse_json,omitempty"`
	TimeoutSeconds   int    `json:"timeout_seconds,omitempty"`
}
