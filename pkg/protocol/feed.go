package protocol

import (
	"context"

	"github.com/journeyhq/journey/pkg/events"
)

// FeedCallback is called for every record event read from the feed. The
// dispatcher matches the event against active workflow triggers and creates
// enrollments.
type FeedCallback func(ctx context.Context, event events.RecordEvent) error

// FeedSource is a long-running consumer of the business-record event feed.
// Start blocks until the context is canceled or the source fails.
type FeedSource interface {
	Start(ctx context.Context, callback FeedCallback) error
	Stop(ctx context.Context) error
	Validate() error
}
