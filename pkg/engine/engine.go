// Package engine advances workflow runs: it computes ready nodes over the
// run trace, dispatches handlers with bounded retries and timeouts, and
// checkpoints run state after every node boundary so a crashed worker can be
// replaced mid-run without losing completed work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/eventbus"
	"github.com/orchid-run/orchid/pkg/events"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/otelhelper"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/registry"
	"github.com/orchid-run/orchid/pkg/store"
)

const (
	defaultConcurrency         = 4
	defaultNodeTimeout         = 30 * time.Second
	defaultMaxSubworkflowDepth = 5
	defaultCheckpointRetries   = 5
)

// subworkflowDepthKey carries nesting depth in child run trigger data so
// recursion stays bounded across engine boundaries.
const subworkflowDepthKey = "subworkflow_depth"

type Config struct {
	WorkerID            string
	Concurrency         int
	DefaultNodeTimeout  time.Duration
	MaxSubworkflowDepth int
	CheckpointRetries   int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}

	if c.DefaultNodeTimeout <= 0 {
		c.DefaultNodeTimeout = defaultNodeTimeout
	}

	if c.MaxSubworkflowDepth <= 0 {
		c.MaxSubworkflowDepth = defaultMaxSubworkflowDepth
	}

	if c.CheckpointRetries <= 0 {
		c.CheckpointRetries = defaultCheckpointRetries
	}

	return c
}

// Engine advances runs. One Engine serves many runs concurrently; each run
// is advanced by exactly one goroutine at a time, which is what keeps
// checkpoint writes for a run strictly ordered.
type Engine struct {
	logger   *slog.Logger
	store    store.Store
	registry *registry.Registry
	bus      eventbus.EventPublisher
	gate     *approval.Gate
	sink     protocol.Sink
	backoff  BackoffStrategy
	tracer   trace.Tracer
	executor *executor
	cfg      Config

	pool   *ants.Pool
	active sync.Map
}

// NewEngine builds an engine. bus and sink may be nil.
func NewEngine(logger *slog.Logger, st store.Store, reg *registry.Registry, bus eventbus.EventPublisher, gate *approval.Gate, sink protocol.Sink, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	log := logger.With("module", "engine")

	if sink == nil {
		sink = NopSink{}
	}

	return &Engine{
		logger:   log,
		store:    st,
		registry: reg,
		bus:      bus,
		gate:     gate,
		sink:     sink,
		backoff:  PolicyBackoff{},
		tracer:   otel.Tracer("orchid.engine"),
		executor: &executor{
			registry:       reg,
			defaultTimeout: cfg.DefaultNodeTimeout,
			logger:         log,
		},
		cfg:  cfg,
		pool: pool,
	}, nil
}

// SetBackoff replaces the retry delay strategy. Tests use NoBackoff.
func (e *Engine) SetBackoff(strategy BackoffStrategy) {
	e.backoff = strategy
}

// SetTracer replaces the tracer built from the global provider.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

// Close releases the worker pool. In-flight node attempts are abandoned; the
// next Advance of their runs re-dispatches them from the last checkpoint.
func (e *Engine) Close() {
	e.pool.Release()
}

// Outcome summarizes a run after one advancement.
type Outcome struct {
	RunID         string
	Status        models.RunStatus
	FailureReason string
	NodesExecuted int
}

func outcomeOf(run *models.Run) *Outcome {
	return &Outcome{
		RunID:         run.ID,
		Status:        run.Status,
		FailureReason: run.FailureReason,
		NodesExecuted: len(run.Trace),
	}
}

// StartRun creates a pending run for a published workflow. When runID is
// empty a fresh ID is generated. Creating a run with an ID that already
// exists returns the existing run, which is what makes trigger redelivery
// idempotent.
func (e *Engine) StartRun(ctx context.Context, workflowID, runID string, triggerData map[string]any) (*models.Run, error) {
	definition, err := e.store.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if definition.Status != models.WorkflowStatusPublished {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowNotRunnable, workflowID, definition.Status)
	}

	if runID == "" {
		runID = uuid.New().String()
	}

	run := models.NewRun(runID, definition, triggerData)

	if err := e.store.Runs().Create(ctx, run); err != nil {
		if errors.Is(err, store.ErrRunAlreadyExists) {
			return e.store.Runs().Get(ctx, runID)
		}

		return nil, err
	}

	e.logger.InfoContext(ctx, "Run created",
		"run_id", run.ID, "workflow_id", workflowID)

	return run, nil
}

// Cancel sets the cooperative cancellation flag. The engine observes it at
// the next node boundary; in-flight attempts run to completion and their
// outputs are still recorded. Cancelling a terminal run is a no-op.
func (e *Engine) Cancel(ctx context.Context, runID, actor string) error {
	return RequestCancel(ctx, e.logger, e.store.Runs(), runID, actor, e.cfg.CheckpointRetries)
}

// RequestCancel is the CAS write behind Cancel. It is package-level so a
// process without a full engine, such as the API server, can flag a run.
func RequestCancel(ctx context.Context, logger *slog.Logger, runs store.RunRepository, runID, actor string, retries int) error {
	for attempt := 0; attempt <= retries; attempt++ {
		run, err := runs.Get(ctx, runID)
		if err != nil {
			return err
		}

		if run.Status.Terminal() || run.CancelRequested {
			return nil
		}

		run.CancelRequested = true

		err = runs.Update(ctx, run, run.Version)
		if err == nil {
			logger.InfoContext(ctx, "Run cancellation requested",
				"run_id", runID, "actor", actor)

			return nil
		}

		if !store.IsVersionConflict(err) {
			return err
		}
	}

	return fmt.Errorf("cancelling run %s: %w", runID, store.ErrVersionConflict)
}

// Advance drives the run forward until it reaches a terminal status,
// suspends on an approval gate, or the context is cancelled. Advancing a
// terminal run returns its outcome unchanged. Only one advancement per run
// may be active in a process; concurrent calls fail with ErrRunActive.
func (e *Engine) Advance(ctx context.Context, runID string) (*Outcome, error) {
	if _, busy := e.active.LoadOrStore(runID, struct{}{}); busy {
		return nil, fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	defer e.active.Delete(runID)

	run, err := e.store.Runs().Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	definition, err := e.store.Workflows().GetByID(ctx, run.WorkflowID)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.advance",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
		attribute.String(otelhelper.WorkerIDKey, e.cfg.WorkerID))
	defer span.End()

	if run.Status.Terminal() {
		return outcomeOf(run), nil
	}

	adv := &advancement{
		engine:       e,
		def:          definition,
		run:          run,
		results:      make(chan nodeResult, len(definition.Nodes)),
		retryReady:   make(chan string, len(definition.Nodes)),
		inflight:     make(map[string]bool),
		waitingRetry: make(map[string]bool),
		done:         make(chan struct{}),
	}
	defer adv.shutdown()

	if run.Status == models.RunStatusWaitingApproval {
		resumed, err := adv.resumeFromApproval(ctx)
		if err != nil || !resumed {
			return outcomeOf(run), err
		}
	}

	if run.Status == models.RunStatusPending {
		if err := run.TransitionTo(models.RunStatusRunning); err != nil {
			return nil, err
		}

		if err := adv.checkpoint(ctx); err != nil {
			return nil, err
		}

		e.publish(ctx, run.ID, events.RunStarted{
			BaseEvent:    e.baseEvent(events.RunStartedEvent, run.WorkflowID),
			RunID:        run.ID,
			WorkflowName: definition.Name,
			TriggerData:  run.TriggerData,
		})
		e.emit(ctx, run, "", string(events.RunStartedEvent), 0)
	}

	outcome, err := adv.drive(ctx)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return outcome, err
}

// RunSubworkflow starts a child run for the given workflow and advances it
// to completion, returning the child's final state. It implements the
// runner interface the subworkflow node type consumes.
func (e *Engine) RunSubworkflow(ctx context.Context, workflowID string, triggerData map[string]any, depth int) (map[string]any, error) {
	if depth >= e.cfg.MaxSubworkflowDepth {
		return nil, protocol.NewFatalError(
			fmt.Errorf("%w: %d", ErrSubworkflowDepth, depth))
	}

	child := make(map[string]any, len(triggerData)+1)
	for k, v := range triggerData {
		child[k] = v
	}

	child[subworkflowDepthKey] = depth + 1

	run, err := e.StartRun(ctx, workflowID, "", child)
	if err != nil {
		return nil, err
	}

	outcome, err := e.Advance(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	switch outcome.Status {
	case models.RunStatusSucceeded:
		final, err := e.store.Runs().Get(ctx, run.ID)
		if err != nil {
			return nil, err
		}

		return final.State, nil
	case models.RunStatusWaitingApproval:
		return nil, protocol.Fatalf("subworkflow run %s suspended on approval; approval gates are not supported in subworkflows", run.ID)
	default:
		return nil, fmt.Errorf("subworkflow run %s ended %s: %s", run.ID, outcome.Status, outcome.FailureReason)
	}
}

// checkpoint writes the run snapshot with a compare-and-swap on the version
// token. On conflict the externally writable flags are merged from the
// stored snapshot and the write retried: this goroutine is the only writer
// of trace and state, so everything else is ours.
func (e *Engine) checkpoint(ctx context.Context, run *models.Run) error {
	var err error

	for attempt := 0; attempt <= e.cfg.CheckpointRetries; attempt++ {
		err = e.store.Runs().Update(ctx, run, run.Version)
		if err == nil {
			return nil
		}

		if !store.IsVersionConflict(err) {
			return err
		}

		stored, getErr := e.store.Runs().Get(ctx, run.ID)
		if getErr != nil {
			return getErr
		}

		if stored.CancelRequested {
			run.CancelRequested = true
		}

		for id := range stored.ApprovedNodes {
			if run.ApprovedNodes == nil {
				run.ApprovedNodes = make(map[string]bool)
			}

			run.ApprovedNodes[id] = true
		}

		run.Version = stored.Version
	}

	return fmt.Errorf("checkpointing run %s: %w", run.ID, err)
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = e.cfg.WorkerID

	return base
}

func (e *Engine) emit(ctx context.Context, run *models.Run, nodeID, event string, duration time.Duration) {
	e.sink.Emit(ctx, protocol.SinkRecord{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		NodeID:     nodeID,
		Event:      event,
		Timestamp:  time.Now().UTC(),
		DurationMs: duration.Milliseconds(),
	})
}
