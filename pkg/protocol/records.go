package protocol

import (
	"context"

	"github.com/journeyhq/journey/pkg/models"
)

// RecordStore reads and mutates business records in the system of record.
// The engine fetches a snapshot when an enrollment wakes and writes back
// through the mutation methods only.
type RecordStore interface {
	// Get returns the current field snapshot of a record.
	Get(ctx context.Context, entity models.EntityRef) (map[string]any, error)

	// UpdateField sets a single field on a record.
	UpdateField(ctx context.Context, entity models.EntityRef, field string, value any) error

	// AddTag attaches a tag to a record. Adding an existing tag is a no-op.
	AddTag(ctx context.Context, entity models.EntityRef, tag string) error
}
