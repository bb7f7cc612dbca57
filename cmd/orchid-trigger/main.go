// Package main provides the orchid trigger service: it watches published
// workflows and fires runs from schedules, webhooks, queues, and Kafka
// topics.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/orchid-run/orchid/pkg/cmd"
	"github.com/orchid-run/orchid/pkg/log"
	"github.com/orchid-run/orchid/pkg/triggers"
	"github.com/orchid-run/orchid/pkg/triggers/webhook"
)

func main() {
	command := &cli.Command{
		Name:                  "orchid-trigger",
		EnableShellCompletion: true,
		Usage:                 "Start the trigger service for published workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "manager-id",
				Usage:   "Custom trigger manager ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("MANAGER_ID"),
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
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the shared webhook HTTP server",
				Value:   8085,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.StringFlag{
				Name:    "webhook-dedup-redis",
				Usage:   "Redis address for webhook delivery deduplication (empty disables dedup)",
				Value:   "",
				Sources: cli.EnvVars("WEBHOOK_DEDUP_REDIS"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing trigger plugins",
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

	managerID := command.String("manager-id")
	if managerID == "" {
		managerID = "trigger-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("orchid-trigger").With("manager_id", managerID)
	logger.InfoContext(ctx, "Initializing orchid trigger service")

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

	bus, err := cmd.NewEventBus(command.String("event-bus"), "orchid-trigger", logger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize event bus", "error", err)

		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	var dedup *redis.Client
	if addr := command.String("webhook-dedup-redis"); addr != "" {
		dedup = redis.NewClient(&redis.Options{Addr: addr})
		defer dedup.Close()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := webhook.NewServer(":"+strconv.Itoa(command.Int("webhook-port")), dedup, logger)
	if err := server.Start(runCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to start webhook server", "error", err)

		return err
	}

	registry := cmd.NewRegistry(logger, command.String("plugins-path"), cmd.Collaborators{})
	cmd.RegisterTriggers(registry, server)

	manager := triggers.NewManager(managerID, logger, st, registry, bus)
	if err := manager.Start(runCtx); err != nil {
		logger.ErrorContext(ctx, "Failed to start trigger manager", "error", err)

		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.InfoContext(ctx, "Shutting down trigger service")
	case <-runCtx.Done():
	}

	manager.Stop(context.Background())

	return server.Stop(context.Background())
}
