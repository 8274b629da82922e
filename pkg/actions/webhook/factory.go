package webhook

import (
	"context"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ActionFactory creates webhook Action instances.
type ActionFactory struct{}

// NewActionFactory creates a new webhook ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new webhook Action from the given configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

// ID returns the unique identifier for the action.
func (h *ActionFactory) ID() string {
	return "webhook"
}

// Name returns the name of the action.
func (h *ActionFactory) Name() string {
	return "Webhook"
}

// Description returns a brief description of the action.
func (h *ActionFactory) Description() string {
	return "Sends an HTTP request to an external endpoint with optional headers and body."
}

// Schema returns the JSON schema for configuring this action.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to send the request to. Supports placeholders.",
				"examples": []string{
					"https://hooks.example.com/notify",
					"https://api.example.com/contacts/{{contact.id}}/sync",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use",
				"default":     "POST",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include in the request. Values support placeholders.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"description": "Request body. Strings are sent as-is, objects are serialized as JSON.",
				"examples": []any{
					`{"email": "{{contact.email}}"}`,
					map[string]any{"email": "{{contact.email}}", "source": "journey"},
				},
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Per-request timeout in seconds",
				"default":     30,
				"minimum":     1,
				"maximum":     120,
			},
		},
		"required": []string{"url"},
	}
}
