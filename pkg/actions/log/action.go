// Package log provides the executor that emits a message into the engine's
// structured log stream.
package log

import (
	"context"
	"errors"
	"log/slog"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ErrMessageRequired is returned when the configuration holds no message.
var ErrMessageRequired = errors.New("missing 'message' in configuration")

// LogAction writes the configured message at the configured level.
type LogAction struct {
	Message string
	Level   string
}

// NewLogAction creates a log action from step configuration.
func NewLogAction(config map[string]any) (*LogAction, error) {
	message, _ := config["message"].(string)
	if message == "" {
		return nil, ErrMessageRequired
	}

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &LogAction{Message: message, Level: level}, nil
}

// Execute logs the message tagged with the enrollment coordinates.
func (a *LogAction) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger = logger.With(
		"module", "log_action",
		"workflow_id", input.WorkflowID,
		"enrollment_id", input.EnrollmentID,
		"step_id", input.StepID,
	)

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, a.Message)
	case "warn", "warning":
		logger.WarnContext(ctx, a.Message)
	case "error":
		logger.ErrorContext(ctx, a.Message)
	default:
		logger.InfoContext(ctx, a.Message)
	}

	return map[string]any{
		"message": a.Message,
		"level":   a.Level,
	}, nil
}

// Validate reports configuration problems beyond the schema.
func (a *LogAction) Validate(_ context.Context) error {
	if a.Message == "" {
		return ErrMessageRequired
	}

	return nil
}
