package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/journeyhq/journey/pkg/cmd"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/otelhelper"
	"github.com/journeyhq/journey/pkg/scheduler"
)

func main() {
	cmdRoot := &cli.Command{
		Name:                  "journey-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Wake waiting enrollments whose resume time passed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
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
			&cli.IntFlag{
				Name:    "sweep-interval",
				Usage:   "Seconds between sweeps for due enrollments",
				Value:   15,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum due enrollments woken per sweep",
				Value:   100,
				Sources: cli.EnvVars("SWEEP_BATCH_SIZE"),
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

			tracerProvider, err := otelhelper.InitTracer(ctx, "journey-scheduler")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			schedulerID := command.String("scheduler-id")
			if schedulerID == "" {
				schedulerID = "scheduler-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("journey-scheduler").With("scheduler_id", schedulerID)

			logger.InfoContext(ctx, "Initializing Journey Scheduler")

			eventBus := cmd.NewEventBus(command.String("event-bus"), "journey-scheduler", command.String("kafka-brokers"), logger)
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

			sweeper := scheduler.NewSweeper(persistence, eventBus, logger)
			if interval := command.Int("sweep-interval"); interval > 0 {
				sweeper.Interval = time.Duration(interval) * time.Second
			}

			if batch := command.Int("batch-size"); batch > 0 {
				sweeper.BatchSize = batch
			}

			err = sweeper.Start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start sweeper: %w", err)
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logger.InfoContext(ctx, "Shutting down scheduler...")
			sweeper.Stop(ctx)

			return nil
		},
	}

	err := cmdRoot.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
