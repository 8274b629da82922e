package transform

import (
	"context"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ActionFactory creates TransformAction instances.
type ActionFactory struct{}

// NewActionFactory creates a new transform ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new TransformAction from the given configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewTransformAction(config)
}

// ID returns the unique identifier for the action.
func (h *ActionFactory) ID() string {
	return "transform"
}

// Name returns the name of the action.
func (h *ActionFactory) Name() string {
	return "Transform"
}

// Description returns a brief description of the action.
func (h *ActionFactory) Description() string {
	return "Evaluates a value expression and records the result, keeping the resolved type."
}

// Schema returns the JSON schema for configuring this action.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"description": "Value to emit. A single placeholder keeps its original type; mixed text renders to a string.",
				"examples": []any{
					"{{variables.item}}",
					"{{steps.fetch-1.body.items}}",
					map[string]any{"email": "{{contact.email}}", "score": "{{variables.score}}"},
				},
			},
		},
		"required": []string{"value"},
	}
}
