package workflow

import (
	"log/slog"
	"strings"

	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
)

// TriggerMatcher matches record events against workflow trigger
// configurations. The dispatcher asks it which active workflows should
// enroll the record an event refers to.
type TriggerMatcher struct {
	logger *slog.Logger
}

func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns the active workflows whose trigger matches the
// event. Workflows in any other status never match, whatever their trigger
// says.
func (tm *TriggerMatcher) MatchWorkflows(event *events.RecordEvent, workflows []*models.Workflow) []*models.Workflow {
	var matches []*models.Workflow

	tm.logger.Debug("Matching record event against workflows",
		"event_id", event.ID,
		"event_type", event.Type,
		"entity_type", event.Entity.Type,
		"workflows_count", len(workflows))

	for _, workflow := range workflows {
		if workflow.Status != models.WorkflowStatusActive {
			continue
		}

		if tm.matchTrigger(event, workflow) {
			matches = append(matches, workflow)

			tm.logger.Debug("Found matching workflow",
				"workflow_id", workflow.ID,
				"workflow_name", workflow.Name,
				"event_type", event.Type)
		}
	}

	tm.logger.Info("Completed trigger matching",
		"event_type", event.Type,
		"entity_id", event.Entity.ID,
		"matches_found", len(matches))

	return matches
}

func (tm *TriggerMatcher) matchTrigger(event *events.RecordEvent, workflow *models.Workflow) bool {
	trigger := workflow.TriggerStep()
	if trigger == nil {
		return false
	}

	var cfg models.TriggerConfig

	err := trigger.DecodeConfig(&cfg)
	if err != nil {
		tm.logger.Warn("Skipping workflow with undecodable trigger configuration",
			"workflow_id", workflow.ID, "error", err)

		return false
	}

	if !matchPattern(event.Type, cfg.EventType) {
		return false
	}

	if cfg.EntityType != "" && cfg.EntityType != event.Entity.Type {
		return false
	}

	return tm.matchFilters(event.Data, cfg.Filters)
}

// matchPattern matches an event type against a trigger pattern. An empty or
// "*" pattern matches anything; a single embedded wildcard matches by
// prefix and suffix, so "deal.*" covers every deal event.
func matchPattern(value, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	if strings.Contains(pattern, "*") {
		parts := strings.SplitN(pattern, "*", 2)

		return strings.HasPrefix(value, parts[0]) && strings.HasSuffix(value, parts[1])
	}

	return value == pattern
}

// matchFilters requires every configured filter field to be present in the
// event payload with a loosely equal value.
func (tm *TriggerMatcher) matchFilters(data map[string]any, filters map[string]any) bool {
	for field, expected := range filters {
		actual, exists := data[field]
		if !exists {
			return false
		}

		if !looseEquals(actual, expected) {
			return false
		}
	}

	return true
}
