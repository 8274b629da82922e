// Package transform provides the executor that evaluates a configured value
// expression and emits it as the step output, preserving its resolved type.
// Paired with result_var it is how loop bodies accumulate derived values.
package transform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ErrValueRequired is returned when the configuration holds no value.
var ErrValueRequired = errors.New("missing 'value' in configuration")

// TransformAction returns its resolved value. All the work happens during
// placeholder resolution before the executor runs.
type TransformAction struct {
	Value any
}

// NewTransformAction creates a transform action from step configuration.
func NewTransformAction(config map[string]any) (*TransformAction, error) {
	value, exists := config["value"]
	if !exists {
		return nil, ErrValueRequired
	}

	return &TransformAction{Value: value}, nil
}

// Execute emits the resolved value.
func (a *TransformAction) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "transform_action")
	logger.DebugContext(ctx, "Emitting transformed value", "step_id", input.StepID)

	return a.Value, nil
}

// Validate reports configuration problems beyond the schema.
func (a *TransformAction) Validate(_ context.Context) error {
	if a.Value == nil {
		return ErrValueRequired
	}

	return nil
}
