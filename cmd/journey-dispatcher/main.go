package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/journeyhq/journey/pkg/cmd"
	"github.com/journeyhq/journey/pkg/feeds/webhook"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/otelhelper"
	"github.com/journeyhq/journey/pkg/protocol"
)

func main() {
	cmdRoot := &cli.Command{
		Name:                  "journey-dispatcher",
		Usage:                 "Consume the record-event feed and enroll matching records into workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "feed-provider",
				Usage:   "Record feed provider (kafka, redis, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("FEED_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated list of Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the redis feed provider",
				Value:   "redis://localhost:6379",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list name holding the record feed",
				Value:   "journey:records",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.IntFlag{
				Name:     "webhook-port",
				Usage:    "Port for the record-event webhook server (0 disables it)",
				Value:    8085,
				Required: false,
				Sources:  cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := otelhelper.InitTracer(ctx, "journey-dispatcher")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("journey-dispatcher").With("dispatcher_id", dispatcherID)

			logger.Info("Initializing Journey Dispatcher", "dispatcher_id", dispatcherID)

			eventBus := cmd.NewEventBus(
				command.String("event-bus"),
				"journey-dispatcher",
				command.String("kafka-brokers"),
				logger,
			)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			feedBus := cmd.NewFeedBus(
				command.String("feed-provider"),
				"journey-dispatcher",
				command.String("kafka-brokers"),
				command.String("redis-url"),
				command.String("redis-queue"),
				logger,
			)
			defer func() {
				if err := feedBus.Close(); err != nil {
					logger.Error("Failed to close feed bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to create persistence: %w", err)
			}
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			var webhookSource protocol.FeedSource
			if port := command.Int("webhook-port"); port > 0 {
				webhookSource = webhook.NewSource(port, logger)
				if err := webhookSource.Validate(); err != nil {
					return fmt.Errorf("invalid webhook configuration: %w", err)
				}
			}

			NewDispatcher(
				dispatcherID,
				persistence,
				eventBus,
				feedBus,
				webhookSource,
				logger,
			).Start(ctx)

			return nil
		},
	}

	if err := cmdRoot.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
