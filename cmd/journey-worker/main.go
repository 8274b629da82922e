package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/journeyhq/journey/pkg/cmd"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/otelhelper"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/reasoning"
	"github.com/journeyhq/journey/pkg/records"
)

func main() {
	cmdRoot := &cli.Command{
		Name:                  "journey-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute enrollments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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

			tracerProvider, err := otelhelper.InitTracer(ctx, "journey-worker")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("journey-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Journey Worker")

			recordStore := newRecordStore(logger, command)
			registry := cmd.NewRegistry(ctx, logger, recordStore, command.String("plugins-path"))

			eventBus := cmd.NewEventBus(command.String("event-bus"), "journey-worker", command.String("kafka-brokers"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			worker := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				logger,
				registry,
				recordStore,
				newReasoningClient(logger, command),
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start event-driven worker", "error", err)
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
