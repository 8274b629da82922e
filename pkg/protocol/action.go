// Package protocol defines the contracts between the engine and its
// pluggable parts: action executors, record stores, reasoning clients and
// record event feeds.
package protocol

import (
	"context"
	"log/slog"

	"github.com/journeyhq/journey/pkg/models"
)

// ActionInput carries everything a single action invocation may read. The
// configuration arrives with its placeholders already resolved.
type ActionInput struct {
	WorkflowID   string
	EnrollmentID string
	StepID       string
	Entity       models.EntityRef
	EntityData   map[string]any
	Config       map[string]any
	Context      *models.DataContext
}

// Action executes one unit of side-effecting work inside a step. The
// returned value is recorded as the step's output.
type Action interface {
	Execute(ctx context.Context, input ActionInput, logger *slog.Logger) (any, error)

	// Validate checks the instantiated configuration beyond what the JSON
	// schema can express.
	Validate(ctx context.Context) error
}

// ActionFactory creates Action instances and describes their configuration.
// Implemented by built-in executors and by .so plugins, which export a
// symbol named "Action" of this type.
type ActionFactory interface {
	// Create instantiates an Action from step configuration. At execution
	// time the configuration arrives with placeholders already resolved;
	// validation paths may pass raw configuration.
	Create(ctx context.Context, config map[string]any) (Action, error)

	// ID returns the executor type referenced by action step configuration.
	ID() string

	// Name returns a human-readable name for this executor.
	Name() string

	// Description returns a short description of what this executor does.
	Description() string

	// Schema returns a JSON Schema describing the expected configuration.
	Schema() map[string]any
}
