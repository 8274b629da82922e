package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/journeyhq/journey/pkg/cmd"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/reasoning"
	"github.com/journeyhq/journey/pkg/records"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 8081

func main() {
	logger := log.WithModule("api")

	cmdRoot := &cli.Command{
		Name:                  "journey-api",
		Usage:                 "Create and manage workflows and enrollments",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated list of Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing action plugins",
				Value:    "./plugins",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "records-url",
				Usage:   "Base URL of the record store service (in-memory store when empty)",
				Sources: cli.EnvVars("RECORDS_URL"),
			},
			&cli.StringFlag{
				Name:    "records-api-key",
				Usage:   "API key for the record store service",
				Sources: cli.EnvVars("RECORDS_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "reasoning-url",
				Usage:   "Endpoint of the reasoning service used by ai_agent steps",
				Sources: cli.EnvVars("REASONING_URL"),
			},
			&cli.StringFlag{
				Name:    "reasoning-api-key",
				Usage:   "API key for the reasoning service",
				Sources: cli.EnvVars("REASONING_API_KEY"),
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

			logger.InfoContext(ctx, "Initializing Journey API")

			recordStore := newRecordStore(logger, command)
			registry := cmd.NewRegistry(ctx, logger, recordStore, command.String("plugins-path"))

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "journey-api", command.String("kafka-brokers"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api := NewAPI(
				logger,
				persistence,
				registry,
				eventBus,
				recordStore,
				newReasoningClient(logger, command),
			)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := cmdRoot.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func newRecordStore(logger *slog.Logger, command *cli.Command) protocol.RecordStore {
	if url := command.String("records-url"); url != "" {
		return records.NewClient(logger, url, command.String("records-api-key"))
	}

	return records.NewMemoryStore()
}

func newReasoningClient(logger *slog.Logger, command *cli.Command) protocol.ReasoningClient {
	if url := command.String("reasoning-url"); url != "" {
		return reasoning.NewClient(logger, url, command.String("reasoning-api-key"))
	}

	return nil
}
