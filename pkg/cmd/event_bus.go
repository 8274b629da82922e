package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/journeyhq/journey/pkg/channels/gochannel"
	"github.com/journeyhq/journey/pkg/channels/kafka"
	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/feeds/redisqueue"
)

// NewEventBus creates the engine event bus for the given provider. The
// gochannel provider is in-process only and exists for local development.
func NewEventBus(provider, serviceName, kafkaBrokers string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName, kafkaBrokers)
		if err != nil {
			panic(fmt.Errorf("failed to create kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}

// NewFeedBus creates the record-event feed consumed by the dispatcher. The
// redis provider reads a Redis list instead of a Kafka topic.
func NewFeedBus(provider, serviceName, kafkaBrokers, redisURL, redisQueue string, logger *slog.Logger) eventbus.FeedBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName, kafkaBrokers)
		if err != nil {
			panic(fmt.Errorf("failed to create kafka feed channel: %w", err))
		}

		return eventbus.NewWatermillFeedBus(pub, sub, logger)
	case "redis":
		feedBus, err := redisqueue.NewFeedBus(redisURL, redisQueue, logger)
		if err != nil {
			panic(fmt.Errorf("failed to create redis feed: %w", err))
		}

		return feedBus
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel feed: %w", err))
		}

		return eventbus.NewWatermillFeedBus(pub, sub, logger)
	default:
		panic("Unsupported feed provider: " + provider)
	}
}
