package events

import (
	"time"

	"github.com/journeyhq/journey/pkg/models"
)

// RecordEvent is one entry of the business-record feed: something happened
// to a record in the system of record. The dispatcher matches these against
// active workflow triggers.
//
// Types follow the "<entity>.<what>" convention, e.g. "contact.created",
// "deal.stage_changed", "ticket.tag_added".
type RecordEvent struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Entity     models.EntityRef `json:"entity"`
	Data       map[string]any   `json:"data,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
