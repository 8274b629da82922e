package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/workflow"
)

func simulationEntity() models.EntityRef {
	return models.EntityRef{Type: "contact", ID: "c-1"}
}

func TestSimulatorDryRunEchoesActions(t *testing.T) {
	t.Parallel()

	wf := testWorkflow("preview-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "plan-check")),
		step("plan-check", models.StepTypeCondition, map[string]any{
			"left":     "{{entity.plan}}",
			"operator": "equals",
			"right":    "pro",
		}, edge(models.BranchYes, "notify"), edge(models.BranchNo, "wait")),
		step("notify", models.StepTypeAction, map[string]any{
			"action_type": "webhook",
			"params":      map[string]any{"url": "https://hooks.example.com/{{entity.id}}"},
		}),
		step("wait", models.StepTypeDelay, map[string]any{"kind": "duration", "seconds": 604800},
			edge(models.BranchNext, "notify")),
	)

	records := &stubRecords{snapshot: map[string]any{"plan": "pro", "name": "Ada"}}
	sim := workflow.NewSimulator(testLogger(), nil, records, nil, nil)

	result := sim.Run(context.Background(), wf, workflow.SimulationRequest{
		Entity:      simulationEntity(),
		DryRun:      true,
		FastForward: true,
	})

	require.Equal(t, workflow.SimulationCompleted, result.Status)
	assert.Empty(t, result.Error)
	require.Len(t, result.Steps, 3)

	assert.Equal(t, "trigger-1", result.Steps[0].StepID)
	assert.Equal(t, "plan-check", result.Steps[1].StepID)
	assert.Equal(t, models.BranchYes, result.Steps[1].Branch)
	assert.Equal(t, "notify", result.Steps[2].StepID)

	// The echoed output names the action that would have run, with its
	// placeholders resolved.
	output, ok := result.Steps[2].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["simulated"])
	assert.Equal(t, "webhook", output["action_type"])

	params, ok := output["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://hooks.example.com/c-1", params["url"])
}

func TestSimulatorSuspendsWithoutFastForward(t *testing.T) {
	t.Parallel()

	wf := testWorkflow("slow-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "wait")),
		step("wait", models.StepTypeDelay, map[string]any{"kind": "duration", "seconds": 3600},
			edge(models.BranchNext, "notify")),
		step("notify", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)

	sim := workflow.NewSimulator(testLogger(), nil, &stubRecords{}, nil, nil)

	result := sim.Run(context.Background(), wf, workflow.SimulationRequest{
		Entity: simulationEntity(),
		DryRun: true,
	})

	require.Equal(t, workflow.SimulationSuspended, result.Status)
	require.NotNil(t, result.ResumeAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *result.ResumeAt, time.Minute)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "wait", result.Steps[1].StepID)
	assert.Equal(t, models.StepOutcomeSuspended, result.Steps[1].Outcome)
}

func TestSimulatorDryRunEchoesReasoning(t *testing.T) {
	t.Parallel()

	wf := testWorkflow("triage-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "classify")),
		step("classify", models.StepTypeAIAgent, map[string]any{
			"prompt":     "Classify {{entity.name}}",
			"result_var": "triage",
		}),
	)

	records := &stubRecords{snapshot: map[string]any{"name": "Ada"}}
	sim := workflow.NewSimulator(testLogger(), nil, records, nil, nil)

	result := sim.Run(context.Background(), wf, workflow.SimulationRequest{
		Entity: simulationEntity(),
		DryRun: true,
	})

	require.Equal(t, workflow.SimulationCompleted, result.Status)
	require.Len(t, result.Steps, 2)

	output, ok := result.Steps[1].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["simulated"])
	assert.Equal(t, "Classify Ada", output["prompt"])
}

func TestSimulatorTracesAreRepeatable(t *testing.T) {
	t.Parallel()

	wf := testWorkflow("repeat-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "each")),
		step("each", models.StepTypeLoop, map[string]any{"source": `["a","b","c"]`},
			edge(models.BranchLoopBody, "process"), edge(models.BranchLoopDone, "wait")),
		step("process", models.StepTypeAction, map[string]any{
			"action_type": "log",
			"params":      map[string]any{"line": "{{variables.item}}"},
		}),
		step("wait", models.StepTypeDelay, map[string]any{"kind": "duration", "seconds": 86400},
			edge(models.BranchNext, "notify")),
		step("notify", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)

	sim := workflow.NewSimulator(testLogger(), nil, &stubRecords{}, nil, nil)
	req := workflow.SimulationRequest{Entity: simulationEntity(), DryRun: true, FastForward: true}

	type traceRow struct {
		stepID  string
		outcome string
		branch  string
	}

	project := func(result *workflow.SimulationResult) []traceRow {
		rows := make([]traceRow, 0, len(result.Steps))
		for _, entry := range result.Steps {
			rows = append(rows, traceRow{stepID: entry.StepID, outcome: entry.Outcome, branch: entry.Branch})
		}

		return rows
	}

	first := sim.Run(context.Background(), wf, req)
	second := sim.Run(context.Background(), wf, req)

	require.Equal(t, workflow.SimulationCompleted, first.Status)
	assert.Equal(t, project(first), project(second))
}

func TestSimulatorReportsStepFailure(t *testing.T) {
	t.Parallel()

	wf := testWorkflow("broken-flow",
		step("trigger-1", models.StepTypeTrigger, nil, edge(models.BranchNext, "check")),
		step("check", models.StepTypeCondition, map[string]any{
			"left":     "{{variables.score}}",
			"operator": "greater_than",
			"right":    "50",
		}, edge(models.BranchYes, "notify"), edge(models.BranchNo, "notify")),
		step("notify", models.StepTypeAction, map[string]any{"action_type": "webhook"}),
	)

	sim := workflow.NewSimulator(testLogger(), nil, &stubRecords{}, nil, nil)

	result := sim.Run(context.Background(), wf, workflow.SimulationRequest{
		Entity: simulationEntity(),
		DryRun: true,
	})

	require.Equal(t, workflow.SimulationFailed, result.Status)
	assert.NotEmpty(t, result.Error)

	require.NotEmpty(t, result.Steps)
	last := result.Steps[len(result.Steps)-1]
	assert.Equal(t, "check", last.StepID)
	assert.Equal(t, models.StepOutcomeFailed, last.Outcome)
}

func TestSimulatorRejectsWorkflowWithoutTrigger(t *testing.T) {
	t.Parallel()

	wf := testWorkflow("headless-flow",
		step("notify", models.StepTypeAction, map[string]any{"action_type": "webhook"}))

	sim := workflow.NewSimulator(testLogger(), nil, &stubRecords{}, nil, nil)

	result := sim.Run(context.Background(), wf, workflow.SimulationRequest{Entity: simulationEntity(), DryRun: true})

	assert.Equal(t, workflow.SimulationFailed, result.Status)
	assert.Equal(t, "workflow has no trigger step", result.Error)
	assert.Empty(t, result.Steps)
}
