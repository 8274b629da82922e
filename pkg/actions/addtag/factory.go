package addtag

import (
	"context"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ActionFactory creates add_tag Action instances bound to a record store.
type ActionFactory struct {
	store protocol.RecordStore
}

// NewActionFactory creates a new add_tag ActionFactory.
func NewActionFactory(store protocol.RecordStore) *ActionFactory {
	return &ActionFactory{store: store}
}

// Create creates a new add_tag Action from the given configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(h.store, config)
}

// ID returns the unique identifier for the action.
func (h *ActionFactory) ID() string {
	return "add_tag"
}

// Name returns the name of the action.
func (h *ActionFactory) Name() string {
	return "Add Tag"
}

// Description returns a brief description of the action.
func (h *ActionFactory) Description() string {
	return "Appends a tag to the enrolled business record."
}

// Schema returns the JSON schema for configuring this action.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":        "string",
				"description": "Tag to append. Supports placeholders.",
				"examples":    []string{"nurtured", "tier-{{variables.tier}}"},
			},
		},
		"required": []string{"tag"},
	}
}
