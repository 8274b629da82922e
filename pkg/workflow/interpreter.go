// Package workflow implements the execution engine: the step interpreter,
// the enrollment runner with its lease discipline, graph validation, trigger
// matching and the simulation runner.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/resolver"
)

const (
	// maxTurnSteps caps the number of steps one enrollment executes within a
	// single worker turn, nested region steps included.
	maxTurnSteps = 1000

	// defaultLoopCeiling bounds loop iterations when max_iterations is unset.
	defaultLoopCeiling = 1000

	// defaultInlineDelayLimit bounds delay steps inside nested regions.
	// Regions run synchronously within one turn and cannot suspend.
	defaultInlineDelayLimit = 30 * time.Second

	// maxNestingDepth bounds region nesting: loop bodies, parallel branches,
	// try blocks and sub-workflow invocations all run in-turn.
	maxNestingDepth = 8
)

// StepResult reports what a single step execution decided. A completed step
// carries the taken Branch and possibly an Output; a suspended step carries
// the resume time; a failed step comes back as an error from ExecuteStep.
type StepResult struct {
	// Branch is the label of the taken outgoing branch. The caller advances
	// along the matching edge; a taken branch with no matching edge completes
	// the enrollment.
	Branch string

	// Output is the value recorded under the step's id in the data context,
	// nil for step types that produce none.
	Output any

	// Input is the resolved configuration the step ran with.
	Input map[string]any

	Suspended    bool
	ResumeAt     time.Time
	WaitingSince time.Time
	WaitReason   models.WaitReason

	// Children holds terminal child enrollments created by sub_workflow
	// steps, for the caller to persist. The simulator discards them.
	Children []*models.Enrollment
}

// TraceEntry is one step record of an execution trace.
type TraceEntry struct {
	StepID     string          `json:"step_id"`
	Type       models.StepType `json:"type"`
	Name       string          `json:"name,omitempty"`
	Nested     bool            `json:"nested,omitempty"`
	Input      map[string]any  `json:"input,omitempty"`
	Outcome    string          `json:"outcome"`
	Branch     string          `json:"branch,omitempty"`
	Output     any             `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// TraceFunc receives one entry per executed step, nested region steps
// included. Implementations must be safe for concurrent calls.
type TraceFunc func(entry TraceEntry)

// ActionInvoker abstracts how action steps reach their executor. The default
// invoker goes through the registry; the simulator swaps in an echo invoker
// for dry runs.
type ActionInvoker interface {
	Invoke(ctx context.Context, actionType string, config map[string]any, input protocol.ActionInput) (any, error)
}

type registryInvoker struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func (ri *registryInvoker) Invoke(ctx context.Context, actionType string, config map[string]any, input protocol.ActionInput) (any, error) {
	action, err := ri.registry.CreateAction(ctx, actionType, config)
	if err != nil {
		return nil, models.NewConfigurationError(input.StepID, fmt.Sprintf("failed to create action %q", actionType), err)
	}

	return action.Execute(ctx, input, ri.logger)
}

// Interpreter advances one enrollment by exactly one step per invocation.
// It owns every DataContext mutation; callers persist the enrollment and
// route the returned branch.
type Interpreter struct {
	// Now, Invoker and Trace are knobs for the runner, the simulator and
	// tests; leave them zero for defaults.
	Now     func() time.Time
	Invoker ActionInvoker
	Trace   TraceFunc

	// FastForward makes delay steps advance immediately instead of
	// suspending or sleeping.
	FastForward bool

	// Sequential runs parallel branches and concurrent loop iterations one
	// at a time in declared order. The simulator sets it so traces come out
	// deterministic.
	Sequential bool

	// InlineDelayLimit bounds delay steps inside nested regions.
	InlineDelayLimit time.Duration

	registry  *registry.Registry
	records   protocol.RecordStore
	reasoning protocol.ReasoningClient
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

// NewInterpreter wires an interpreter with its collaborators. The records
// store, reasoning client and workflow repository may be nil when the graphs
// executed do not use them.
func NewInterpreter(
	logger *slog.Logger,
	reg *registry.Registry,
	records protocol.RecordStore,
	reasoning protocol.ReasoningClient,
	workflows persistence.WorkflowRepository,
) *Interpreter {
	interp := &Interpreter{
		Now:              func() time.Time { return time.Now().UTC() },
		InlineDelayLimit: defaultInlineDelayLimit,
		registry:         reg,
		records:          records,
		reasoning:        reasoning,
		workflows:        workflows,
		logger:           logger.With("module", "interpreter"),
	}

	interp.Invoker = &registryInvoker{registry: reg, logger: interp.logger}

	return interp
}

// ExecuteStep runs one step of the enrollment against a fresh record
// snapshot and the enrollment's own data context. The returned error is
// classified through the step error taxonomy.
func (i *Interpreter) ExecuteStep(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, step *models.Step) (*StepResult, error) {
	return i.executeStep(ctx, wf, enrollment, enrollment.Context, step, 0)
}

func (i *Interpreter) executeStep(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, depth int) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewTransientError(step.ID, "execution interrupted", err)
	}

	started := i.Now()

	result, err := i.dispatch(ctx, wf, enrollment, data, step, depth)

	i.emitTrace(step, depth, started, result, err)

	if err != nil {
		return nil, models.AsStepError(err, step.ID)
	}

	return result, nil
}

func (i *Interpreter) dispatch(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, depth int) (*StepResult, error) {
	scope, err := i.buildScope(ctx, enrollment, data)
	if err != nil {
		return nil, err
	}

	switch step.Type {
	case models.StepTypeTrigger:
		// The dispatcher already matched the trigger; executing it only
		// moves the enrollment onto the graph.
		return &StepResult{Branch: models.BranchNext}, nil
	case models.StepTypeAction:
		return i.interpretAction(ctx, wf, enrollment, data, step, scope)
	case models.StepTypeCondition:
		return i.interpretCondition(step, scope)
	case models.StepTypeDelay:
		return i.interpretDelay(ctx, enrollment, step, scope, depth)
	case models.StepTypeLoop:
		return i.interpretLoop(ctx, wf, enrollment, data, step, scope, depth)
	case models.StepTypeParallel:
		return i.interpretParallel(ctx, wf, enrollment, data, step, depth)
	case models.StepTypeTryCatch:
		return i.interpretTryCatch(ctx, wf, enrollment, data, step, depth)
	case models.StepTypeSubWorkflow:
		return i.interpretSubWorkflow(ctx, enrollment, data, step, scope, depth)
	case models.StepTypeAIAgent:
		return i.interpretAIAgent(ctx, enrollment, data, step, scope)
	default:
		return nil, models.NewConfigurationError(step.ID, fmt.Sprintf("unknown step type %q", step.Type), nil)
	}
}

// buildScope assembles the resolver scope from a fresh record snapshot and
// the given data context. The snapshot is re-read per step so long-running
// enrollments observe concurrent record edits.
func (i *Interpreter) buildScope(ctx context.Context, enrollment *models.Enrollment, data *models.DataContext) (resolver.Scope, error) {
	scope := resolver.Scope{
		EntityType:  enrollment.Entity.Type,
		Entity:      map[string]any{},
		Variables:   data.Variables,
		StepOutputs: data.StepOutputs,
	}

	if i.records == nil || enrollment.Entity.ID == "" {
		return scope, nil
	}

	snapshot, err := i.records.Get(ctx, enrollment.Entity)
	if err != nil {
		return scope, fmt.Errorf("failed to read record %s/%s: %w", enrollment.Entity.Type, enrollment.Entity.ID, err)
	}

	scope.Entity = snapshot

	return scope, nil
}

func (i *Interpreter) interpretAction(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, scope resolver.Scope) (*StepResult, error) {
	var cfg models.ActionConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid action configuration", err)
	}

	if cfg.ActionType == "" {
		return nil, models.NewConfigurationError(step.ID, "action step has no action_type", nil)
	}

	params, err := resolver.RenderConfig(cfg.Params, scope)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "failed to resolve action parameters", err)
	}

	input := protocol.ActionInput{
		WorkflowID:   wf.ID,
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		Entity:       enrollment.Entity,
		EntityData:   scope.Entity,
		Config:       params,
		Context:      data,
	}

	output, err := i.Invoker.Invoke(ctx, cfg.ActionType, params, input)
	if err != nil {
		return nil, err
	}

	if output != nil {
		data.SetStepOutput(step.ID, output)
	}

	if cfg.ResultVar != "" {
		data.SetVariable(cfg.ResultVar, output)
	}

	return &StepResult{Branch: models.BranchNext, Output: output, Input: params}, nil
}

func (i *Interpreter) interpretAIAgent(ctx context.Context, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, scope resolver.Scope) (*StepResult, error) {
	var cfg models.AIAgentConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid ai_agent configuration", err)
	}

	if cfg.ResultVar == "" {
		return nil, models.NewConfigurationError(step.ID, "ai_agent step has no result_var", nil)
	}

	if i.reasoning == nil {
		return nil, models.NewConfigurationError(step.ID, "no reasoning service configured", nil)
	}

	prompt, err := resolver.Render(cfg.Prompt, scope)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "failed to resolve prompt", err)
	}

	payload := map[string]any{}
	if cfg.IncludeEntity {
		payload["entity"] = scope.Entity
	}

	if cfg.IncludeVariables {
		payload["variables"] = data.Variables
	}

	reply, err := i.reasoning.Invoke(ctx, protocol.ReasoningRequest{
		Prompt:  prompt,
		Context: payload,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	value := any(reply.Text)

	if cfg.ParseJSON {
		if reply.Parsed == nil {
			// The service answered but not with the requested structure;
			// another attempt may produce parseable output.
			return nil, models.NewTransientError(step.ID, "reasoning reply is not structured data", nil)
		}

		value = reply.Parsed
	}

	data.SetStepOutput(step.ID, value)
	data.SetVariable(cfg.ResultVar, value)

	input := map[string]any{"prompt": prompt, "parse_json": cfg.ParseJSON}

	return &StepResult{Branch: models.BranchNext, Output: value, Input: input}, nil
}

func (i *Interpreter) emitTrace(step *models.Step, depth int, started time.Time, result *StepResult, err error) {
	if i.Trace == nil {
		return
	}

	entry := TraceEntry{
		StepID:     step.ID,
		Type:       step.Type,
		Name:       step.Name,
		Nested:     depth > 0,
		DurationMs: i.Now().Sub(started).Milliseconds(),
	}

	switch {
	case err != nil:
		entry.Outcome = models.StepOutcomeFailed
		entry.Error = err.Error()
	case result.Suspended:
		entry.Outcome = models.StepOutcomeSuspended
		entry.Input = result.Input
	default:
		entry.Outcome = models.StepOutcomeCompleted
		entry.Branch = result.Branch
		entry.Input = result.Input
		entry.Output = result.Output
	}

	i.Trace(entry)
}
