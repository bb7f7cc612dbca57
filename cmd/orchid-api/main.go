package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/cmd"
	"github.com/orchid-run/orchid/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "orchid-api",
		EnableShellCompletion: true,
		Usage:                 "Start the orchid REST API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   9091,
				Sources: cli.EnvVars("PORT"),
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
				Usage:   "Path to the directory containing node plugins",
				Value:   "",
				Sources: cli.EnvVars("PLUGINS_PATH"),
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

	logger := log.WithModule("orchid-api")
	logger.InfoContext(ctx, "Initializing orchid API")

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

	bus, err := cmd.NewEventBus(command.String("event-bus"), "orchid-api", logger)
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

	api := NewAPI(logger, st, registry, gate, bus)

	if err := api.Start(command.Int("port")); err != nil {
		logger.ErrorContext(ctx, "API server failed", "error", err)

		return err
	}

	return nil
}
