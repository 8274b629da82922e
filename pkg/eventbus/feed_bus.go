// Specialized bus for the business-record feed consumed by the dispatcher.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/journeyhq/journey/pkg/events"
)

// FeedHandler is called for every record event read from the feed.
type FeedHandler func(ctx context.Context, event *events.RecordEvent) error

// FeedPublisher publishes record events. Used by integration tests and by
// the simulation API to inject synthetic feed entries.
type FeedPublisher interface {
	PublishRecordEvent(ctx context.Context, event *events.RecordEvent) error
}

// FeedSubscriber consumes the record event feed.
type FeedSubscriber interface {
	HandleRecordEvents(handler FeedHandler) error
	SubscribeToRecordEvents(ctx context.Context) error
}

// FeedBus combines publishing and subscribing for the record feed.
type FeedBus interface {
	FeedPublisher
	FeedSubscriber
	Close() error
}

type watermillFeedBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   []FeedHandler
	logger     *slog.Logger
}

// NewWatermillFeedBus creates a feed bus on top of any watermill channel.
func NewWatermillFeedBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) FeedBus {
	return &watermillFeedBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make([]FeedHandler, 0),
		logger:     logger.With("module", "feed-bus"),
	}
}

func (b *watermillFeedBus) PublishRecordEvent(ctx context.Context, event *events.RecordEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, event.Entity.ID)
	msg.Metadata.Set(events.EventTypeMetadataKey, event.Type)

	return b.publisher.Publish(events.RecordFeedTopic, msg)
}

func (b *watermillFeedBus) HandleRecordEvents(handler FeedHandler) error {
	b.handlers = append(b.handlers, handler)

	return nil
}

func (b *watermillFeedBus) SubscribeToRecordEvents(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, events.RecordFeedTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event events.RecordEvent

			err := json.Unmarshal(msg.Payload, &event)
			if err != nil {
				b.logger.ErrorContext(ctx, "Failed to unmarshal record event", "error", err, "message_id", msg.UUID)
				msg.Nack()

				continue
			}

			failed := false

			for _, handler := range b.handlers {
				err = handler(ctx, &event)
				if err != nil {
					b.logger.ErrorContext(ctx, "Record event handler failed",
						"error", err,
						"record_event_id", event.ID,
						"event_type", event.Type)

					failed = true
				}
			}

			if failed {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (b *watermillFeedBus) Close() error {
	err := b.publisher.Close()
	if err != nil {
		return err
	}

	return b.subscriber.Close()
}
