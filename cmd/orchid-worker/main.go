package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/cmd"
	"github.com/orchid-run/orchid/pkg/engine"
	"github.com/orchid-run/orchid/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "orchid-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute workflow runs",
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
				Usage:    "Database connection URL (postgres:// or file://)",
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
				Name:    "plugins-path",
				Usage:   "Path to the directory containing node and trigger plugins",
				Value:   "",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum concurrently executing nodes per worker",
				Value:   4,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "node-timeout",
				Usage:   "Default per-node execution timeout",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("NODE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("orchid-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing orchid worker")

	st, err := cmd.NewStore(ctx, logger, command.String("database-url"))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize store", "error", err)

		return err
	}

	defer func() {
		if err := st.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close store", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), "orchid-worker", logger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize event bus", "error", err)

		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	registry := cmd.NewRegistry(logger, command.String("plugins-path"), cmd.Collaborators{})
	gate := approval.NewGate(logger, st, bus, approval.DefaultDeadline)

	eng, err := engine.NewEngine(logger, st, registry, bus, gate, engine.NewSlogSink(logger), engine.Config{
		WorkerID:           workerID,
		Concurrency:        int(command.Int("concurrency")),
		DefaultNodeTimeout: command.Duration("node-timeout"),
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize engine", "error", err)

		return err
	}
	defer eng.Close()

	cmd.RegisterSubworkflow(registry, eng)

	worker := NewWorkerManager(workerID, logger, st, bus, eng, gate)

	return worker.Start(ctx)
}
