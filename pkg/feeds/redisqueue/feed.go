// Package redisqueue provides a record-event feed backed by a Redis list.
// It is an alternative to the Kafka feed topic for installations that
// already run Redis: producers RPUSH record events as JSON, the dispatcher
// consumes them with BLPOP.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
)

const (
	popTimeout     = 1 * time.Second
	connectTimeout = 5 * time.Second
)

// FeedBus implements eventbus.FeedBus over a Redis list. A list has no
// acknowledgement: a record event whose handler fails is logged and dropped,
// not redelivered.
type FeedBus struct {
	Queue string

	client   redis.UniversalClient
	handlers []eventbus.FeedHandler
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFeedBus parses a redis:// URL and prepares a feed bus on the given
// list. An empty queue name falls back to the standard feed topic. No
// connection is made until SubscribeToRecordEvents or the first publish.
func NewFeedBus(redisURL, queue string, logger *slog.Logger) (*FeedBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if queue == "" {
		queue = events.RecordFeedTopic
	}

	return &FeedBus{
		Queue:  queue,
		client: redis.NewClient(opts),
		stopCh: make(chan struct{}),
		logger: logger.With("module", "redis-feed", "queue", queue),
	}, nil
}

func (b *FeedBus) PublishRecordEvent(ctx context.Context, event *events.RecordEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = b.client.RPush(ctx, b.Queue, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to push record event to %s: %w", b.Queue, err)
	}

	return nil
}

func (b *FeedBus) HandleRecordEvents(handler eventbus.FeedHandler) error {
	b.handlers = append(b.handlers, handler)

	return nil
}

func (b *FeedBus) SubscribeToRecordEvents(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	err := b.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	b.logger.InfoContext(ctx, "Consuming record event feed")

	b.wg.Add(1)

	go b.consume(ctx)

	return nil
}

func (b *FeedBus) consume(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			b.logger.InfoContext(ctx, "Feed consumer stopped")

			return
		case <-ctx.Done():
			b.logger.InfoContext(ctx, "Context cancelled, stopping feed consumer")

			return
		default:
			err := b.processMessage(ctx)
			if err != nil {
				b.logger.ErrorContext(ctx, "Error reading record event feed", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (b *FeedBus) processMessage(ctx context.Context) error {
	result, err := b.client.BLPop(ctx, popTimeout, b.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop from %s: %w", b.Queue, err)
	}

	if len(result) < 2 {
		return nil
	}

	var event events.RecordEvent

	err = json.Unmarshal([]byte(result[1]), &event)
	if err != nil {
		b.logger.ErrorContext(ctx, "Dropping malformed record event", "error", err)

		return nil
	}

	for _, handler := range b.handlers {
		err = handler(ctx, &event)
		if err != nil {
			b.logger.ErrorContext(ctx, "Record event handler failed",
				"error", err,
				"record_event_id", event.ID,
				"event_type", event.Type)
		}
	}

	return nil
}

func (b *FeedBus) Close() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()

	return b.client.Close()
}
