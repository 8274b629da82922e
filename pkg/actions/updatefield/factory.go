package updatefield

import (
	"context"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ActionFactory creates update_field Action instances bound to a record store.
type ActionFactory struct {
	store protocol.RecordStore
}

// NewActionFactory creates a new update_field ActionFactory.
func NewActionFactory(store protocol.RecordStore) *ActionFactory {
	return &ActionFactory{store: store}
}

// Create creates a new update_field Action from the given configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(h.store, config)
}

// ID returns the unique identifier for the action.
func (h *ActionFactory) ID() string {
	return "update_field"
}

// Name returns the name of the action.
func (h *ActionFactory) Name() string {
	return "Update Field"
}

// Description returns a brief description of the action.
func (h *ActionFactory) Description() string {
	return "Sets one field on the enrolled business record."
}

// Schema returns the JSON schema for configuring this action.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "Name of the record field to set",
				"examples":    []string{"lifecycle_stage", "owner_id"},
			},
			"value": map[string]any{
				"description": "Value to write. Supports placeholders.",
				"examples": []any{
					"customer",
					"{{steps.score-1.tier}}",
				},
			},
		},
		"required": []string{"field", "value"},
	}
}
