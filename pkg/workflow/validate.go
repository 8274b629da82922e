package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/resolver"
)

// Issue is one validation finding, attributed to a step where possible. A
// workflow may only be activated when validation finds no issues.
type Issue struct {
	StepID  string `json:"step_id,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.StepID == "" {
		return i.Message
	}

	return fmt.Sprintf("step %s: %s", i.StepID, i.Message)
}

// FormatIssues renders a findings list into one semicolon-joined string.
func FormatIssues(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, issue.String())
	}

	return strings.Join(parts, "; ")
}

var allowedBranches = map[models.StepType]map[string]bool{
	models.StepTypeTrigger:     {models.BranchNext: true},
	models.StepTypeAction:      {models.BranchNext: true},
	models.StepTypeDelay:       {models.BranchNext: true},
	models.StepTypeCondition:   {models.BranchYes: true, models.BranchNo: true},
	models.StepTypeLoop:        {models.BranchLoopBody: true, models.BranchLoopDone: true},
	models.StepTypeTryCatch:    {models.BranchTry: true, models.BranchError: true, models.BranchNext: true},
	models.StepTypeSubWorkflow: {models.BranchNext: true},
	models.StepTypeAIAgent:     {models.BranchNext: true},
}

// ValidateGraph checks a workflow graph for structural and configuration
// defects: a single trigger with a continuation, resolvable edges, branch
// labels matching each step type, acyclicity, reachability, per-type
// configuration and template syntax, and delay bounds inside nested
// regions. The registry is optional; when present, action types must be
// registered.
func ValidateGraph(wf *models.Workflow, reg *registry.Registry) []Issue {
	var issues []Issue

	if len(wf.Steps) == 0 {
		return []Issue{{Message: "workflow has no steps"}}
	}

	steps := make(map[string]*models.Step, len(wf.Steps))

	for _, step := range wf.Steps {
		if step.ID == "" {
			issues = append(issues, Issue{Message: "step has no id"})

			continue
		}

		if _, exists := steps[step.ID]; exists {
			issues = append(issues, Issue{StepID: step.ID, Message: "duplicate step id"})

			continue
		}

		steps[step.ID] = step
	}

	trigger, triggerIssues := validateTrigger(wf)
	issues = append(issues, triggerIssues...)

	for _, step := range wf.Steps {
		issues = append(issues, validateEdges(step, steps)...)
		issues = append(issues, validateStepConfig(wf, step, reg)...)
	}

	if trigger != nil {
		issues = append(issues, validateTraversal(wf, trigger, steps)...)
	}

	issues = append(issues, validateRegionDelays(wf, steps)...)

	return issues
}

func validateTrigger(wf *models.Workflow) (*models.Step, []Issue) {
	var triggers []*models.Step

	for _, step := range wf.Steps {
		if step.Type == models.StepTypeTrigger {
			triggers = append(triggers, step)
		}
	}

	if len(triggers) == 0 {
		return nil, []Issue{{Message: "workflow has no trigger step"}}
	}

	if len(triggers) > 1 {
		issues := make([]Issue, 0, len(triggers)-1)
		for _, extra := range triggers[1:] {
			issues = append(issues, Issue{StepID: extra.ID, Message: "workflow has more than one trigger step"})
		}

		return triggers[0], issues
	}

	trigger := triggers[0]

	if _, ok := trigger.EdgeTo(models.BranchNext); !ok {
		return trigger, []Issue{{StepID: trigger.ID, Message: "trigger step has no next edge"}}
	}

	return trigger, nil
}

func validateEdges(step *models.Step, steps map[string]*models.Step) []Issue {
	var issues []Issue

	seen := make(map[string]bool, len(step.Edges))

	for _, edge := range step.Edges {
		if edge.Branch == "" {
			issues = append(issues, Issue{StepID: step.ID, Message: "edge has no branch label"})
		}

		if seen[edge.Branch] {
			issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("duplicate edge branch %q", edge.Branch)})
		}

		seen[edge.Branch] = true

		if edge.To == "" || steps[edge.To] == nil {
			issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("edge %q points to unknown step %q", edge.Branch, edge.To)})
		}

		// Parallel steps use free-form branch labels for their fan-out.
		if step.Type == models.StepTypeParallel {
			continue
		}

		allowed, known := allowedBranches[step.Type]
		if known && !allowed[edge.Branch] {
			issues = append(issues, Issue{StepID: step.ID,
				Message: fmt.Sprintf("branch %q is not valid on a %s step", edge.Branch, step.Type)})
		}
	}

	return issues
}

func validateStepConfig(wf *models.Workflow, step *models.Step, reg *registry.Registry) []Issue {
	switch step.Type {
	case models.StepTypeTrigger:
		return decodeIssues(step, &models.TriggerConfig{})
	case models.StepTypeAction:
		return validateActionStep(step, reg)
	case models.StepTypeCondition:
		return validateConditionStep(step)
	case models.StepTypeDelay:
		return validateDelayStep(step)
	case models.StepTypeLoop:
		return validateLoopStep(step)
	case models.StepTypeParallel:
		return validateParallelStep(step)
	case models.StepTypeTryCatch:
		return validateTryCatchStep(step)
	case models.StepTypeSubWorkflow:
		return validateSubWorkflowStep(wf, step)
	case models.StepTypeAIAgent:
		return validateAIAgentStep(step)
	default:
		return []Issue{{StepID: step.ID, Message: fmt.Sprintf("unknown step type %q", step.Type)}}
	}
}

func decodeIssues(step *models.Step, cfg any) []Issue {
	err := step.DecodeConfig(cfg)
	if err != nil {
		return []Issue{{StepID: step.ID, Message: fmt.Sprintf("invalid %s configuration", step.Type)}}
	}

	return nil
}

func validateActionStep(step *models.Step, reg *registry.Registry) []Issue {
	var cfg models.ActionConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	if cfg.ActionType == "" {
		issues = append(issues, Issue{StepID: step.ID, Message: "action step has no action_type"})
	} else if reg != nil && !reg.IsActionRegistered(cfg.ActionType) {
		issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("unknown action type %q", cfg.ActionType)})
	}

	issues = append(issues, templateIssues(step.ID, cfg.Params)...)

	return issues
}

func validateConditionStep(step *models.Step) []Issue {
	var cfg models.ConditionConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	if cfg.Left == "" {
		issues = append(issues, Issue{StepID: step.ID, Message: "condition step has no left operand"})
	}

	if !KnownOperator(cfg.Operator) {
		issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("unknown operator %q", cfg.Operator)})
	}

	issues = append(issues, syntaxIssue(step.ID, cfg.Left)...)
	issues = append(issues, syntaxIssue(step.ID, cfg.Right)...)

	return issues
}

func validateDelayStep(step *models.Step) []Issue {
	var cfg models.DelayConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	switch cfg.Kind {
	case models.DelayKindDuration, "":
		if cfg.Seconds < 0 {
			issues = append(issues, Issue{StepID: step.ID, Message: "delay seconds must not be negative"})
		}
	case models.DelayKindUntil:
		if cfg.Until == "" {
			issues = append(issues, Issue{StepID: step.ID, Message: "delay step has no until instant"})
		} else if !strings.Contains(cfg.Until, "{{") {
			if _, err := time.Parse(time.RFC3339, cfg.Until); err != nil {
				issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("until %q is not an RFC3339 instant", cfg.Until)})
			}
		}

		issues = append(issues, syntaxIssue(step.ID, cfg.Until)...)
	case models.DelayKindAt:
		if _, err := parseClock(cfg.At); err != nil || cfg.At == "" {
			issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("at %q is not an HH:MM clock time", cfg.At)})
		}
	case models.DelayKindWeekday:
		if _, ok := weekdays[strings.ToLower(cfg.Weekday)]; !ok {
			issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("unknown weekday %q", cfg.Weekday)})
		}

		if _, err := parseClock(cfg.At); err != nil {
			issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("at %q is not an HH:MM clock time", cfg.At)})
		}
	default:
		issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("unknown delay kind %q", cfg.Kind)})
	}

	return issues
}

func validateLoopStep(step *models.Step) []Issue {
	var cfg models.LoopConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	if cfg.Source == "" {
		issues = append(issues, Issue{StepID: step.ID, Message: "loop step has no source"})
	}

	if cfg.MaxIterations < 0 {
		issues = append(issues, Issue{StepID: step.ID, Message: "max_iterations must not be negative"})
	}

	if cfg.MaxConcurrent < 0 {
		issues = append(issues, Issue{StepID: step.ID, Message: "max_concurrent must not be negative"})
	}

	if _, ok := step.EdgeTo(models.BranchLoopBody); !ok {
		issues = append(issues, Issue{StepID: step.ID, Message: "loop step has no loop-body edge"})
	}

	issues = append(issues, syntaxIssue(step.ID, cfg.Source)...)

	return issues
}

func validateParallelStep(step *models.Step) []Issue {
	var cfg models.ParallelConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	if cfg.Join != "" && cfg.Join != models.JoinWaitAll && cfg.Join != models.JoinFirstComplete {
		issues = append(issues, Issue{StepID: step.ID, Message: fmt.Sprintf("unknown join mode %q", cfg.Join)})
	}

	if len(step.BranchEdges()) == 0 {
		issues = append(issues, Issue{StepID: step.ID, Message: "parallel step has no branch edges"})
	}

	return issues
}

func validateTryCatchStep(step *models.Step) []Issue {
	var cfg models.TryCatchConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	if cfg.RetryAttempts < 0 {
		issues = append(issues, Issue{StepID: step.ID, Message: "retry_attempts must not be negative"})
	}

	if _, ok := step.EdgeTo(models.BranchTry); !ok {
		issues = append(issues, Issue{StepID: step.ID, Message: "try_catch step has no try edge"})
	}

	if _, ok := step.EdgeTo(models.BranchError); !ok {
		issues = append(issues, Issue{StepID: step.ID, Message: "try_catch step has no error edge"})
	}

	return issues
}

func validateSubWorkflowStep(wf *models.Workflow, step *models.Step) []Issue {
	var cfg models.SubWorkflowConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	switch {
	case cfg.WorkflowID == "":
		issues = append(issues, Issue{StepID: step.ID, Message: "sub_workflow step has no workflow_id"})
	case cfg.WorkflowID == wf.ID:
		issues = append(issues, Issue{StepID: step.ID, Message: "sub_workflow step references its own workflow"})
	}

	issues = append(issues, syntaxIssue(step.ID, cfg.WorkflowID)...)
	issues = append(issues, templateIssues(step.ID, cfg.Variables)...)

	return issues
}

func validateAIAgentStep(step *models.Step) []Issue {
	var cfg models.AIAgentConfig

	if issues := decodeIssues(step, &cfg); issues != nil {
		return issues
	}

	var issues []Issue

	if cfg.Prompt == "" {
		issues = append(issues, Issue{StepID: step.ID, Message: "ai_agent step has no prompt"})
	}

	if cfg.ResultVar == "" {
		issues = append(issues, Issue{StepID: step.ID, Message: "ai_agent step has no result_var"})
	}

	if cfg.TimeoutSeconds < 0 {
		issues = append(issues, Issue{StepID: step.ID, Message: "timeout_seconds must not be negative"})
	}

	issues = append(issues, syntaxIssue(step.ID, cfg.Prompt)...)

	return issues
}

func syntaxIssue(stepID, template string) []Issue {
	err := resolver.CheckSyntax(template)
	if err != nil {
		return []Issue{{StepID: stepID, Message: err.Error()}}
	}

	return nil
}

// templateIssues checks placeholder syntax on every string leaf of a
// configuration value.
func templateIssues(stepID string, config map[string]any) []Issue {
	var issues []Issue

	walkStrings(config, func(template string) {
		issues = append(issues, syntaxIssue(stepID, template)...)
	})

	return issues
}

func walkStrings(value any, fn func(string)) {
	switch typed := value.(type) {
	case string:
		fn(typed)
	case map[string]any:
		for _, entry := range typed {
			walkStrings(entry, fn)
		}
	case []any:
		for _, entry := range typed {
			walkStrings(entry, fn)
		}
	}
}

// validateTraversal walks the full edge graph from the trigger, rejecting
// cycles and reporting steps the trigger cannot reach. Loop iteration is
// expressed by re-running the loop-body region, not by back-edges, so the
// edge graph of a valid workflow is acyclic.
func validateTraversal(wf *models.Workflow, trigger *models.Step, steps map[string]*models.Step) []Issue {
	const (
		colorWhite = iota
		colorGray
		colorBlack
	)

	var issues []Issue

	colors := make(map[string]int, len(steps))

	var visit func(step *models.Step)

	visit = func(step *models.Step) {
		colors[step.ID] = colorGray

		for _, edge := range step.Edges {
			target := steps[edge.To]
			if target == nil {
				continue
			}

			switch colors[target.ID] {
			case colorGray:
				issues = append(issues, Issue{StepID: step.ID,
					Message: fmt.Sprintf("cycle detected through edge %q to step %q", edge.Branch, edge.To)})
			case colorWhite:
				visit(target)
			}
		}

		colors[step.ID] = colorBlack
	}

	visit(trigger)

	for _, step := range wf.Steps {
		if step.ID != "" && colors[step.ID] == colorWhite {
			issues = append(issues, Issue{StepID: step.ID, Message: "step is not reachable from the trigger"})
		}
	}

	return issues
}

// validateRegionDelays bounds delay steps reachable inside nested regions.
// Regions run synchronously within one worker turn, so only short duration
// delays are allowed there.
func validateRegionDelays(wf *models.Workflow, steps map[string]*models.Step) []Issue {
	entries := make([]string, 0, 4)

	for _, step := range wf.Steps {
		switch step.Type {
		case models.StepTypeLoop:
			if to, ok := step.EdgeTo(models.BranchLoopBody); ok {
				entries = append(entries, to)
			}
		case models.StepTypeTryCatch:
			if to, ok := step.EdgeTo(models.BranchTry); ok {
				entries = append(entries, to)
			}
		case models.StepTypeParallel:
			for _, edge := range step.BranchEdges() {
				entries = append(entries, edge.To)
			}
		}
	}

	inRegion := make(map[string]bool)

	queue := entries
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if inRegion[id] {
			continue
		}

		inRegion[id] = true

		step := steps[id]
		if step == nil {
			continue
		}

		for _, edge := range step.Edges {
			queue = append(queue, edge.To)
		}
	}

	var issues []Issue

	limitSeconds := int(defaultInlineDelayLimit / time.Second)

	for _, step := range wf.Steps {
		if step.Type != models.StepTypeDelay || !inRegion[step.ID] {
			continue
		}

		var cfg models.DelayConfig
		if err := step.DecodeConfig(&cfg); err != nil {
			continue
		}

		if (cfg.Kind == models.DelayKindDuration || cfg.Kind == "") && cfg.Seconds <= limitSeconds {
			continue
		}

		issues = append(issues, Issue{StepID: step.ID,
			Message: fmt.Sprintf("delay inside a nested region must be a duration of at most %ds", limitSeconds)})
	}

	return issues
}
