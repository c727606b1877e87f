package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/weftd/weft/pkg/cmd"
	"github.com/weftd/weft/pkg/log"
	"github.com/weftd/weft/pkg/tracing"
)

func main() {
	command := &cli.Command{
		Name:                  "weft-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflow runs",
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
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "secrets-url",
				Usage:   "Redis URL for the secret store (in-memory if empty)",
				Value:   "",
				Sources: cli.EnvVars("SECRETS_URL"),
			},
			&cli.BoolFlag{
				Name:    "schedules",
				Usage:   "Run cron schedule triggers in this worker",
				Value:   false,
				Sources: cli.EnvVars("SCHEDULES"),
			},
			&cli.BoolFlag{
				Name:    "durable",
				Usage:   "Hand runs off to Temporal instead of executing in-process",
				Value:   false,
				Sources: cli.EnvVars("DURABLE"),
			},
			&cli.StringFlag{
				Name:    "temporal-address",
				Usage:   "Temporal frontend address for durable mode",
				Value:   "localhost:7233",
				Sources: cli.EnvVars("TEMPORAL_ADDRESS"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("weft-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Weft Worker")

			if _, err := tracing.NewTracer(ctx, "weft-worker"); err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			}

			registry := cmd.NewRegistry(logger)
			secretStore := cmd.NewSecretStore(command.String("secrets-url"))

			eventBus := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			worker := NewWorkerManager(WorkerConfig{
				ID:              workerID,
				Schedules:       command.Bool("schedules"),
				Durable:         command.Bool("durable"),
				TemporalAddress: command.String("temporal-address"),
			}, persistence, eventBus, logger, registry, secretStore)

			err := worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
