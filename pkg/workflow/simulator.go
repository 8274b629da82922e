package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/registry"
)

// Simulation outcome statuses.
const (
	SimulationCompleted = "completed"
	SimulationSuspended = "suspended"
	SimulationFailed    = "failed"
)

// SimulationRequest describes one simulation run. DryRun swaps real action
// executors and the reasoning service for echoes, so nothing outside the
// engine is touched; FastForward makes delay steps advance immediately.
type SimulationRequest struct {
	Entity      models.EntityRef `json:"entity"`
	Variables   map[string]any   `json:"variables,omitempty"`
	DryRun      bool             `json:"dry_run"`
	FastForward bool             `json:"fast_forward"`
}

// SimulationResult carries the trace of a simulation run. With FastForward
// set, the same workflow, entity and variables always produce the same
// trace.
type SimulationResult struct {
	Status     string       `json:"status"`
	Steps      []TraceEntry `json:"steps"`
	Error      string       `json:"error,omitempty"`
	ResumeAt   *time.Time   `json:"resume_at,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Simulator runs a workflow against a synthetic enrollment that is never
// persisted. Callers normally validate the graph first; the simulator runs
// whatever it is given and reports runtime failures in the result.
type Simulator struct {
	workflows persistence.WorkflowRepository
	records   protocol.RecordStore
	registry  *registry.Registry
	reasoning protocol.ReasoningClient
	logger    *slog.Logger
}

func NewSimulator(
	logger *slog.Logger,
	workflows persistence.WorkflowRepository,
	records protocol.RecordStore,
	reg *registry.Registry,
	reasoning protocol.ReasoningClient,
) *Simulator {
	return &Simulator{
		workflows: workflows,
		records:   records,
		registry:  reg,
		reasoning: reasoning,
		logger:    logger.With("module", "simulator"),
	}
}

// Run walks the workflow from its trigger in-memory, collecting a trace
// entry per executed step. Step failures are not retried: the first failure
// ends the run. A delay step that suspends ends the run too, unless the
// request fast-forwards through delays.
func (s *Simulator) Run(ctx context.Context, wf *models.Workflow, req SimulationRequest) *SimulationResult {
	started := time.Now()

	collector := &traceCollector{}

	interp := NewInterpreter(s.logger, s.registry, s.records, s.reasoning, s.workflows)
	interp.Sequential = true
	interp.FastForward = req.FastForward
	interp.Trace = collector.add

	if req.DryRun {
		interp.Invoker = echoInvoker{}
		interp.reasoning = echoReasoning{}
	}

	enrollment := models.NewEnrollment(wf.ID, req.Entity)
	for name, value := range req.Variables {
		enrollment.Context.SetVariable(name, value)
	}

	result := s.walk(ctx, interp, wf, enrollment)
	result.Steps = collector.entries
	result.DurationMs = time.Since(started).Milliseconds()

	s.logger.Info("Simulation finished",
		"workflow_id", wf.ID,
		"status", result.Status,
		"steps_executed", len(result.Steps),
		"dry_run", req.DryRun)

	return result
}

func (s *Simulator) walk(ctx context.Context, interp *Interpreter, wf *models.Workflow, enrollment *models.Enrollment) *SimulationResult {
	step := wf.TriggerStep()
	if step == nil {
		return &SimulationResult{Status: SimulationFailed, Error: "workflow has no trigger step"}
	}

	for steps := 0; ; steps++ {
		if steps >= maxTurnSteps {
			return &SimulationResult{Status: SimulationFailed, Error: "simulation exceeded the per-turn step limit"}
		}

		enrollment.CurrentStepID = step.ID

		result, err := interp.ExecuteStep(ctx, wf, enrollment, step)
		if err != nil {
			return &SimulationResult{Status: SimulationFailed, Error: err.Error()}
		}

		if result.Suspended {
			resumeAt := result.ResumeAt

			return &SimulationResult{Status: SimulationSuspended, ResumeAt: &resumeAt}
		}

		next, ok := step.EdgeTo(result.Branch)
		if !ok {
			return &SimulationResult{Status: SimulationCompleted}
		}

		step = wf.StepByID(next)
		if step == nil {
			return &SimulationResult{Status: SimulationFailed, Error: "edge points to unknown step"}
		}
	}
}

type traceCollector struct {
	mu      sync.Mutex
	entries []TraceEntry
}

func (tc *traceCollector) add(entry TraceEntry) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.entries = append(tc.entries, entry)
}

// echoInvoker stands in for real action executors during dry runs. It
// reports what would have run without producing side effects.
type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, actionType string, config map[string]any, _ protocol.ActionInput) (any, error) {
	return map[string]any{
		"simulated":   true,
		"action_type": actionType,
		"params":      config,
	}, nil
}

// echoReasoning answers reasoning requests locally during dry runs. The
// parsed form is always present so structured-output steps succeed.
type echoReasoning struct{}

func (echoReasoning) Invoke(_ context.Context, req protocol.ReasoningRequest) (*protocol.ReasoningReply, error) {
	return &protocol.ReasoningReply{
		Text:   "simulated reply",
		Parsed: map[string]any{"simulated": true, "prompt": req.Prompt},
	}, nil
}
