// Package addtag provides the executor that appends a tag to the enrolled
// business record.
package addtag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/journeyhq/journey/pkg/protocol"
)

// ErrTagRequired is returned when the configuration names no tag.
var ErrTagRequired = errors.New("missing 'tag' in configuration")

// Action adds one tag to the business record through the record store.
// Adding a tag the record already carries is a no-op on the store side.
type Action struct {
	store protocol.RecordStore

	Tag string
}

// NewAction creates an add_tag Action from step configuration.
func NewAction(store protocol.RecordStore, config map[string]any) (*Action, error) {
	tag, _ := config["tag"].(string)
	if tag == "" {
		return nil, ErrTagRequired
	}

	return &Action{store: store, Tag: tag}, nil
}

// Execute appends the tag. Store failures carry their own classification.
func (a *Action) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "add_tag_action")
	logger.InfoContext(ctx, "Adding record tag",
		"entity_type", input.Entity.Type,
		"entity_id", input.Entity.ID,
		"tag", a.Tag)

	err := a.store.AddTag(ctx, input.Entity, a.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to add tag %q: %w", a.Tag, err)
	}

	return map[string]any{
		"tag":   a.Tag,
		"added": true,
	}, nil
}

// Validate reports configuration problems beyond the schema.
func (a *Action) Validate(_ context.Context) error {
	if a.Tag == "" {
		return ErrTagRequired
	}

	return nil
}
