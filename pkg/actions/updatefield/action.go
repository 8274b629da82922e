// Package updatefield provides the executor that writes one field on the
// enrolled business record.
package updatefield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ErrFieldRequired is returned when the configuration names no field.
var ErrFieldRequired = errors.New("missing 'field' in configuration")

// Action sets one field on the business record through the record store.
type Action struct {
	store protocol.RecordStore

	Field string
	Value any
}

// NewAction creates an update_field Action from step configuration.
func NewAction(store protocol.RecordStore, config map[string]any) (*Action, error) {
	field, _ := config["field"].(string)
	if field == "" {
		return nil, ErrFieldRequired
	}

	return &Action{
		store: store,
		Field: field,
		Value: config["value"],
	}, nil
}

// Execute writes the field. Store failures carry their own classification;
// a vanished record surfaces as a permanent error.
func (a *Action) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "update_field_action")
	logger.InfoContext(ctx, "Updating record field",
		"entity_type", input.Entity.Type,
		"entity_id", input.Entity.ID,
		"field", a.Field)

	err := a.store.UpdateField(ctx, input.Entity, a.Field, a.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to update field %q: %w", a.Field, err)
	}

	return map[string]any{
		"field":   a.Field,
		"value":   a.Value,
		"updated": true,
	}, nil
}

// Validate reports configuration problems beyond the schema.
func (a *Action) Validate(_ context.Context) error {
	if a.Field == "" {
		return ErrFieldRequired
	}

	return nil
}
