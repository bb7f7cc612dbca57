package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/engine"
	"github.com/orchid-run/orchid/pkg/eventbus"
	"github.com/orchid-run/orchid/pkg/events"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/store"
)

const sweepInterval = time.Minute

// WorkerManager consumes run lifecycle events and drives the engine. Run
// creation is idempotent per run ID, so redelivered trigger events are
// harmless.
type WorkerManager struct {
	id     string
	logger *slog.Logger
	store  store.Store
	bus    eventbus.EventBus
	engine *engine.Engine
	gate   *approval.Gate
}

func NewWorkerManager(
	id string,
	logger *slog.Logger,
	st store.Store,
	bus eventbus.EventBus,
	eng *engine.Engine,
	gate *approval.Gate,
) *WorkerManager {
	return &WorkerManager{
		id:     id,
		logger: logger.With("module", "orchid-worker", "worker_id", id),
		store:  st,
		bus:    bus,
		engine: eng,
		gate:   gate,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if err := w.bus.Handle(events.RunTriggeredEvent, w.handleRunTriggered); err != nil {
		return err
	}

	if err := w.bus.Handle(events.RunResumedEvent, w.handleRunResumed); err != nil {
		return err
	}

	if err := w.bus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.gate.StartSweeper(ctx, sweepInterval)

	w.recoverInterrupted(ctx)

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		w.logger.InfoContext(ctx, "Shutting down worker")
	case <-ctx.Done():
	}

	return nil
}

func (w *WorkerManager) handleRunTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.RunTriggered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event payload for RunTriggered")

		return nil
	}

	logger := w.logger.With(
		"workflow_id", triggered.WorkflowID,
		"run_id", triggered.RunID,
		"source", triggered.Source,
	)
	logger.InfoContext(ctx, "Processing run triggered event")

	run, err := w.engine.StartRun(ctx, triggered.WorkflowID, triggered.RunID, triggered.TriggerData)
	if err != nil {
		if errors.Is(err, engine.ErrWorkflowNotRunnable) {
			logger.WarnContext(ctx, "Workflow is not runnable, dropping event")

			return nil
		}

		logger.ErrorContext(ctx, "Failed to create run", "error", err)

		return err
	}

	return w.advance(ctx, logger, run.ID)
}

func (w *WorkerManager) handleRunResumed(ctx context.Context, event any) error {
	resumed, ok := event.(*events.RunResumed)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event payload for RunResumed")

		return nil
	}

	logger := w.logger.With("run_id", resumed.RunID)
	logger.InfoContext(ctx, "Processing run resumed event")

	return w.advance(ctx, logger, resumed.RunID)
}

func (w *WorkerManager) advance(ctx context.Context, logger *slog.Logger, runID string) error {
	outcome, err := w.engine.Advance(ctx, runID)
	if err != nil {
		if errors.Is(err, engine.ErrRunActive) {
			// Another consumer is already driving this run.
			return nil
		}

		logger.ErrorContext(ctx, "Advance failed", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Run advanced",
		"status", outcome.Status,
		"nodes_executed", outcome.NodesExecuted,
		"failure_reason", outcome.FailureReason)

	return nil
}

// recoverInterrupted resumes runs a crashed worker left behind. Checkpoints
// make this safe: completed attempts are never re-executed.
func (w *WorkerManager) recoverInterrupted(ctx context.Context) {
	for _, status := range []models.RunStatus{models.RunStatusRunning, models.RunStatusPending} {
		runIDs, err := w.store.Runs().ListByStatus(ctx, status)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to list runs for recovery",
				"status", status, "error", err)

			continue
		}

		for _, runID := range runIDs {
			logger := w.logger.With("run_id", runID)
			logger.InfoContext(ctx, "Recovering interrupted run")

			go func(id string) {
				if err := w.advance(ctx, logger, id); err != nil {
					logger.ErrorContext(ctx, "Recovery advance failed", "error", err)
				}
			}(runID)
		}
	}
}
