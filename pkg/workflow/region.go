package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/resolver"
)

// Default variable names bound by loop iterations when the configuration
// does not name its own.
const (
	defaultItemVar  = "item"
	defaultIndexVar = "index"
)

// regionRun drives a nested sub-graph: a loop body, a parallel branch, a
// try block, or a sub-workflow's whole graph. Regions execute synchronously
// within the current worker turn and end when a taken branch has no
// outgoing edge; the final step's output is the region's terminal value.
type regionRun struct {
	workflow   *models.Workflow
	enrollment *models.Enrollment
	data       *models.DataContext
	depth      int

	// logSteps appends executed steps to the enrollment's step log. Set for
	// sub-workflow children, which own their enrollment object.
	logSteps bool

	children []*models.Enrollment
}

func (i *Interpreter) runRegion(ctx context.Context, run *regionRun, startID string) (any, error) {
	if run.depth > maxNestingDepth {
		return nil, models.NewConfigurationError(startID,
			fmt.Sprintf("nested regions exceed the depth limit of %d", maxNestingDepth), nil)
	}

	var lastOutput any

	currentID := startID

	for steps := 0; ; steps++ {
		if steps >= maxTurnSteps {
			return nil, models.NewConfigurationError(currentID, "region exceeded the per-turn step limit", nil)
		}

		step := run.workflow.StepByID(currentID)
		if step == nil {
			return nil, models.NewConfigurationError(currentID, "edge points to unknown step", nil)
		}

		started := i.Now()

		result, err := i.executeStep(ctx, run.workflow, run.enrollment, run.data, step, run.depth)
		if err != nil {
			if run.logSteps {
				run.enrollment.CurrentStepID = step.ID
				run.enrollment.StepLog = append(run.enrollment.StepLog, models.StepLogEntry{
					StepID:     step.ID,
					Type:       step.Type,
					Outcome:    models.StepOutcomeFailed,
					Attempt:    1,
					Error:      err.Error(),
					StartedAt:  started,
					FinishedAt: i.Now(),
				})
			}

			return nil, err
		}

		run.children = append(run.children, result.Children...)

		if run.logSteps {
			run.enrollment.CurrentStepID = step.ID
			run.enrollment.StepLog = append(run.enrollment.StepLog, models.StepLogEntry{
				StepID:     step.ID,
				Type:       step.Type,
				Outcome:    models.StepOutcomeCompleted,
				Branch:     result.Branch,
				Attempt:    1,
				StartedAt:  started,
				FinishedAt: i.Now(),
			})
		}

		lastOutput = result.Output

		next, ok := step.EdgeTo(result.Branch)
		if !ok {
			return lastOutput, nil
		}

		currentID = next
	}
}

func (i *Interpreter) interpretLoop(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, scope resolver.Scope, depth int) (*StepResult, error) {
	var cfg models.LoopConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid loop configuration", err)
	}

	if cfg.Source == "" {
		return nil, models.NewConfigurationError(step.ID, "loop step has no source", nil)
	}

	source, err := resolver.Resolve(cfg.Source, scope)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "failed to resolve loop source", err)
	}

	items, err := coerceSequence(source)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, err.Error(), nil)
	}

	ceiling := cfg.MaxIterations
	if ceiling <= 0 {
		ceiling = defaultLoopCeiling
	}

	if len(items) > ceiling {
		return nil, models.NewConfigurationError(step.ID,
			fmt.Sprintf("loop source has %d items, exceeding the %d iteration ceiling", len(items), ceiling), nil)
	}

	input := map[string]any{"items": len(items)}

	if len(items) == 0 {
		if cfg.ResultVar != "" {
			data.SetVariable(cfg.ResultVar, []any{})
		}

		return &StepResult{Branch: models.BranchLoopDone, Output: []any{}, Input: input}, nil
	}

	bodyID, ok := step.EdgeTo(models.BranchLoopBody)
	if !ok {
		return nil, models.NewConfigurationError(step.ID, "loop step has no loop-body edge", nil)
	}

	itemVar := cfg.ItemVar
	if itemVar == "" {
		itemVar = defaultItemVar
	}

	indexVar := cfg.IndexVar
	if indexVar == "" {
		indexVar = defaultIndexVar
	}

	var (
		results  []any
		children []*models.Enrollment
	)

	concurrent := cfg.MaxConcurrent
	if i.Sequential {
		concurrent = 1
	}

	if concurrent > 1 {
		results, children, err = i.runLoopConcurrent(ctx, wf, enrollment, data, bodyID, items, itemVar, indexVar, depth, concurrent)
	} else {
		results, children, err = i.runLoopSequential(ctx, wf, enrollment, data, bodyID, items, itemVar, indexVar, depth)
	}

	if err != nil {
		return nil, err
	}

	if cfg.ResultVar != "" {
		data.SetVariable(cfg.ResultVar, results)
	}

	return &StepResult{Branch: models.BranchLoopDone, Output: results, Children: children, Input: input}, nil
}

// runLoopSequential executes iterations one at a time on the shared data
// context, so variable writes carry across iterations.
func (i *Interpreter) runLoopSequential(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, bodyID string, items []any, itemVar, indexVar string, depth int) ([]any, []*models.Enrollment, error) {
	results := make([]any, len(items))

	var children []*models.Enrollment

	for index, item := range items {
		data.SetVariable(itemVar, item)
		data.SetVariable(indexVar, index)

		run := &regionRun{workflow: wf, enrollment: enrollment, data: data, depth: depth + 1}

		output, err := i.runRegion(ctx, run, bodyID)

		children = append(children, run.children...)

		if err != nil {
			return nil, children, fmt.Errorf("loop iteration %d failed: %w", index, err)
		}

		results[index] = output
	}

	return results, children, nil
}

// runLoopConcurrent executes iterations on isolated context clones under a
// concurrency bound. Clone writes are discarded; the per-iteration terminal
// values land in the aggregation array in iteration order regardless of
// completion order.
func (i *Interpreter) runLoopConcurrent(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, bodyID string, items []any, itemVar, indexVar string, depth, concurrent int) ([]any, []*models.Enrollment, error) {
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrent)

		results       = make([]any, len(items))
		errs          = make([]error, len(items))
		childrenByIdx = make([][]*models.Enrollment, len(items))
	)

	for index, item := range items {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			iterationData := data.Clone()
			iterationData.SetVariable(itemVar, item)
			iterationData.SetVariable(indexVar, index)

			run := &regionRun{workflow: wf, enrollment: enrollment, data: iterationData, depth: depth + 1}

			output, err := i.runRegion(ctx, run, bodyID)

			results[index] = output
			errs[index] = err
			childrenByIdx[index] = run.children
		}()
	}

	wg.Wait()

	var children []*models.Enrollment
	for _, c := range childrenByIdx {
		children = append(children, c...)
	}

	for index, err := range errs {
		if err != nil {
			return nil, children, fmt.Errorf("loop iteration %d failed: %w", index, err)
		}
	}

	return results, children, nil
}

// coerceSequence accepts a resolved loop source: a sequence as-is, or a
// string holding a JSON array.
func coerceSequence(value any) ([]any, error) {
	switch typed := value.(type) {
	case []any:
		return typed, nil
	case string:
		var items []any

		err := json.Unmarshal([]byte(typed), &items)
		if err != nil {
			return nil, fmt.Errorf("loop source is not a sequence")
		}

		return items, nil
	case nil:
		return nil, fmt.Errorf("loop source resolved to nothing")
	default:
		return nil, fmt.Errorf("loop source resolved to %T, not a sequence", value)
	}
}

type branchOutcome struct {
	edge     models.Edge
	data     *models.DataContext
	output   any
	children []*models.Enrollment
	err      error
}

func (i *Interpreter) interpretParallel(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, depth int) (*StepResult, error) {
	var cfg models.ParallelConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid parallel configuration", err)
	}

	join := cfg.Join
	if join == "" {
		join = models.JoinWaitAll
	}

	if join != models.JoinWaitAll && join != models.JoinFirstComplete {
		return nil, models.NewConfigurationError(step.ID, fmt.Sprintf("unknown join mode %q", join), nil)
	}

	branches := step.BranchEdges()
	if len(branches) == 0 {
		return nil, models.NewConfigurationError(step.ID, "parallel step has no branch edges", nil)
	}

	input := map[string]any{"join": join, "branches": len(branches)}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runBranch := func(edge models.Edge) branchOutcome {
		clone := data.Clone()
		run := &regionRun{workflow: wf, enrollment: enrollment, data: clone, depth: depth + 1}

		output, err := i.runRegion(branchCtx, run, edge.To)

		return branchOutcome{edge: edge, data: clone, output: output, children: run.children, err: err}
	}

	if join == models.JoinFirstComplete {
		winner, err := i.joinFirstComplete(branches, runBranch)
		if err != nil {
			return nil, err
		}

		mergeContext(data, winner.data)

		if cfg.ResultVar != "" {
			data.SetVariable(cfg.ResultVar, winner.output)
		}

		return &StepResult{Branch: models.BranchNext, Output: winner.output, Children: winner.children, Input: input}, nil
	}

	outcomes := i.joinWaitAll(branches, runBranch)

	aggregate := make(map[string]any, len(branches))

	var children []*models.Enrollment

	// Merge in declared edge order so conflicting variable writes resolve
	// deterministically: later branches win.
	for _, outcome := range outcomes {
		if outcome.err != nil {
			return nil, fmt.Errorf("branch %q failed: %w", outcome.edge.Branch, outcome.err)
		}

		mergeContext(data, outcome.data)

		aggregate[outcome.edge.Branch] = outcome.output
		children = append(children, outcome.children...)
	}

	if cfg.ResultVar != "" {
		data.SetVariable(cfg.ResultVar, aggregate)
	}

	return &StepResult{Branch: models.BranchNext, Output: aggregate, Children: children, Input: input}, nil
}

// joinWaitAll runs every branch to completion and returns the outcomes in
// declared edge order.
func (i *Interpreter) joinWaitAll(branches []models.Edge, runBranch func(models.Edge) branchOutcome) []branchOutcome {
	outcomes := make([]branchOutcome, len(branches))

	if i.Sequential {
		for idx, edge := range branches {
			outcomes[idx] = runBranch(edge)
		}

		return outcomes
	}

	var wg sync.WaitGroup

	for idx, edge := range branches {
		wg.Add(1)

		go func() {
			defer wg.Done()

			outcomes[idx] = runBranch(edge)
		}()
	}

	wg.Wait()

	return outcomes
}

// joinFirstComplete returns the first branch that completes successfully,
// canceling the rest. When every branch fails, the first failure in
// declared order is returned.
func (i *Interpreter) joinFirstComplete(branches []models.Edge, runBranch func(models.Edge) branchOutcome) (*branchOutcome, error) {
	if i.Sequential {
		var firstErr error

		for _, edge := range branches {
			outcome := runBranch(edge)
			if outcome.err == nil {
				return &outcome, nil
			}

			if firstErr == nil {
				firstErr = fmt.Errorf("branch %q failed: %w", outcome.edge.Branch, outcome.err)
			}
		}

		return nil, firstErr
	}

	outcomeCh := make(chan branchOutcome, len(branches))

	for _, edge := range branches {
		go func() {
			outcomeCh <- runBranch(edge)
		}()
	}

	var firstErr error

	for range branches {
		outcome := <-outcomeCh
		if outcome.err == nil {
			return &outcome, nil
		}

		if firstErr == nil {
			firstErr = fmt.Errorf("branch %q failed: %w", outcome.edge.Branch, outcome.err)
		}
	}

	return nil, firstErr
}

// mergeContext folds a branch's isolated context back into the parent at
// the join point: step outputs union, variables overwrite.
func mergeContext(parent, branch *models.DataContext) {
	for stepID, output := range branch.StepOutputs {
		parent.SetStepOutput(stepID, output)
	}

	for name, value := range branch.Variables {
		parent.SetVariable(name, value)
	}
}

func (i *Interpreter) interpretTryCatch(ctx context.Context, wf *models.Workflow, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, depth int) (*StepResult, error) {
	var cfg models.TryCatchConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid try_catch configuration", err)
	}

	tryID, ok := step.EdgeTo(models.BranchTry)
	if !ok {
		return nil, models.NewConfigurationError(step.ID, "try_catch step has no try edge", nil)
	}

	input := map[string]any{"retry_attempts": cfg.RetryAttempts}

	var (
		children []*models.Enrollment
		lastErr  error
	)

	for attempt := 1; ; attempt++ {
		run := &regionRun{workflow: wf, enrollment: enrollment, data: data, depth: depth + 1}

		output, err := i.runRegion(ctx, run, tryID)

		children = append(children, run.children...)

		if err == nil {
			return &StepResult{Branch: models.BranchNext, Output: output, Children: children, Input: input}, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}

		// Only transient failures are worth re-running in place.
		if attempt > cfg.RetryAttempts || !models.IsTransientError(lastErr) {
			break
		}

		i.logger.DebugContext(ctx, "Retrying try block", "step_id", step.ID, "attempt", attempt, "error", lastErr)
	}

	stepErr := models.AsStepError(lastErr, step.ID)

	data.SetVariable("error", map[string]any{
		"kind":    string(stepErr.Kind),
		"message": stepErr.Message,
		"step_id": stepErr.StepID,
	})

	if _, ok := step.EdgeTo(models.BranchError); !ok {
		// Nothing catches the failure, so it propagates.
		return nil, lastErr
	}

	return &StepResult{Branch: models.BranchError, Children: children, Input: input}, nil
}

func (i *Interpreter) interpretSubWorkflow(ctx context.Context, enrollment *models.Enrollment, data *models.DataContext, step *models.Step, scope resolver.Scope, depth int) (*StepResult, error) {
	var cfg models.SubWorkflowConfig

	err := step.DecodeConfig(&cfg)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "invalid sub_workflow configuration", err)
	}

	if cfg.WorkflowID == "" {
		return nil, models.NewConfigurationError(step.ID, "sub_workflow step has no workflow_id", nil)
	}

	if i.workflows == nil {
		return nil, models.NewConfigurationError(step.ID, "no workflow repository configured", nil)
	}

	workflowID, err := resolver.Render(cfg.WorkflowID, scope)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "failed to resolve workflow_id", err)
	}

	childWorkflow, err := i.workflows.WorkflowByID(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, models.NewConfigurationError(step.ID, fmt.Sprintf("unknown workflow reference %q", workflowID), err)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if childWorkflow == nil {
		return nil, models.NewConfigurationError(step.ID, fmt.Sprintf("unknown workflow reference %q", workflowID), nil)
	}

	switch childWorkflow.Status {
	case models.WorkflowStatusActive:
	case models.WorkflowStatusPaused:
		// A paused workflow may be resumed by an operator, so the invocation
		// stays retryable.
		return nil, models.NewTransientError(step.ID, fmt.Sprintf("referenced workflow %q is paused", workflowID), nil)
	default:
		return nil, models.NewConfigurationError(step.ID,
			fmt.Sprintf("referenced workflow %q is %s, not active", workflowID, childWorkflow.Status), nil)
	}

	trigger := childWorkflow.TriggerStep()
	if trigger == nil {
		return nil, models.NewConfigurationError(step.ID, fmt.Sprintf("referenced workflow %q has no trigger step", workflowID), nil)
	}

	variables, err := resolver.RenderConfig(cfg.Variables, scope)
	if err != nil {
		return nil, models.NewConfigurationError(step.ID, "failed to resolve sub-workflow variables", err)
	}

	child := models.NewEnrollment(childWorkflow.ID, enrollment.Entity)
	child.ParentEnrollmentID = enrollment.ID

	for name, value := range variables {
		child.Context.SetVariable(name, value)
	}

	run := &regionRun{workflow: childWorkflow, enrollment: child, data: child.Context, depth: depth + 1, logSteps: true}

	_, err = i.runRegion(ctx, run, trigger.ID)

	finished := i.Now()
	child.UpdatedAt = finished

	if err != nil {
		return nil, fmt.Errorf("sub-workflow %s failed: %w", workflowID, err)
	}

	child.Status = models.EnrollmentStatusCompleted
	child.CompletedAt = &finished

	terminal := map[string]any{
		"variables":    child.Context.Variables,
		"step_outputs": child.Context.StepOutputs,
	}

	data.SetStepOutput(step.ID, terminal)

	if cfg.ResultVar != "" {
		data.SetVariable(cfg.ResultVar, terminal)
	}

	children := append(run.children, child)

	return &StepResult{
		Branch:   models.BranchNext,
		Output:   terminal,
		Children: children,
		Input:    map[string]any{"workflow_id": workflowID},
	}, nil
}
