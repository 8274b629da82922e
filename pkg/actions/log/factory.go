package log

import (
	"context"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ActionFactory creates LogAction instances.
type ActionFactory struct{}

// NewActionFactory creates a new log ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new LogAction from the given configuration.
func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewLogAction(config)
}

// ID returns the unique identifier for the action.
func (*ActionFactory) ID() string {
	return "log"
}

// Name returns the name of the action.
func (*ActionFactory) Name() string {
	return "Log"
}

// Description returns a brief description of the action.
func (*ActionFactory) Description() string {
	return "Logs a message at a specified level. Supports placeholders for dynamic content."
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports placeholders for dynamic content.",
				"examples": []string{
					"Enrollment reached the nurture branch",
					"Scored {{contact.email}} at {{variables.score}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "warning", "error"},
			},
		},
		"required": []string{"message"},
	}
}
