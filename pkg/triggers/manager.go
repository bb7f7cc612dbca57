// Package triggers runs the trigger side of the system: it loads published
// workflow definitions, starts a trigger instance per trigger node, and
// converts firings into RunTriggered events for the workers.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/orchid-run/orchid/pkg/eventbus"
	"github.com/orchid-run/orchid/pkg/events"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/registry"
	"github.com/orchid-run/orchid/pkg/store"
)

// Trigger node config key naming the trigger source ("schedule", "webhook",
// "queue", "kafka"). Trigger nodes without it are manual-only entry points.
const sourceConfigKey = "source"

// runIDNamespace scopes the deterministic run IDs derived from idempotency
// keys. Two firings with the same key map to the same run ID, and run
// creation is idempotent per run ID, so duplicated deliveries collapse.
var runIDNamespace = uuid.MustParse("b6f0a6e3-52c8-4b39-9c9d-d7f6a2f3e8d1")

type Manager struct {
	id       string
	logger   *slog.Logger
	store    store.Store
	registry *registry.Registry
	bus      eventbus.EventPublisher

	mu      sync.RWMutex
	running map[string]protocol.Trigger
}

func NewManager(id string, logger *slog.Logger, st store.Store, reg *registry.Registry, bus eventbus.EventPublisher) *Manager {
	return &Manager{
		id:       id,
		logger:   logger.With("module", "trigger_manager", "manager_id", id),
		store:    st,
		registry: reg,
		bus:      bus,
		running:  make(map[string]protocol.Trigger),
	}
}

// Start launches triggers for every published workflow. It returns after
// all triggers are running; Stop tears them down.
func (m *Manager) Start(ctx context.Context) error {
	workflows, err := m.store.Workflows().List(ctx)
	if err != nil {
		return fmt.Errorf("listing workflows: %w", err)
	}

	started := 0

	for _, workflow := range workflows {
		if workflow.Status != models.WorkflowStatusPublished {
			continue
		}

		started += m.startWorkflowTriggers(ctx, workflow)
	}

	m.logger.InfoContext(ctx, "Trigger manager started",
		"workflows", len(workflows), "triggers", started)

	return nil
}

func (m *Manager) startWorkflowTriggers(ctx context.Context, workflow *models.WorkflowDefinition) int {
	logger := m.logger.With("workflow_id", workflow.ID, "workflow_name", workflow.Name)

	started := 0

	for _, node := range workflow.Nodes {
		if node.Type != models.NodeTypeTrigger {
			continue
		}

		source, _ := node.Config[sourceConfigKey].(string)
		if source == "" {
			// Manual-only entry node; runs start through the API.
			continue
		}

		config := make(map[string]any, len(node.Config)+2)
		for k, v := range node.Config {
			config[k] = v
		}

		config["workflow_id"] = workflow.ID
		config["node_id"] = node.ID

		trigger, err := m.registry.CreateTrigger(ctx, source, config)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to create trigger",
				"node_id", node.ID, "source", source, "error", err)

			continue
		}

		if err := trigger.Start(ctx, m.fire); err != nil {
			logger.ErrorContext(ctx, "Failed to start trigger",
				"node_id", node.ID, "source", source, "error", err)

			continue
		}

		m.mu.Lock()
		m.running[workflow.ID+"/"+node.ID] = trigger
		m.mu.Unlock()

		logger.InfoContext(ctx, "Trigger started", "node_id", node.ID, "source", source)

		started++
	}

	return started
}

// fire converts a trigger firing into a RunTriggered event. The run ID is
// derived from the idempotency key when one is present, so the worker's
// idempotent run creation absorbs duplicate deliveries.
func (m *Manager) fire(ctx context.Context, firing protocol.TriggerFire) error {
	runID := RunIDFor(firing.IdempotencyKey)

	event := events.RunTriggered{
		BaseEvent:      events.NewBaseEvent(events.RunTriggeredEvent, firing.WorkflowID),
		RunID:          runID,
		Source:         firing.Source,
		TriggerData:    firing.Data,
		IdempotencyKey: firing.IdempotencyKey,
	}
	event.WorkerID = m.id

	if err := m.bus.Publish(ctx, runID, event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish trigger event",
			"workflow_id", firing.WorkflowID, "run_id", runID, "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Trigger fired",
		"workflow_id", firing.WorkflowID, "run_id", runID, "source", firing.Source)

	return nil
}

func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, trigger := range m.running {
		if err := trigger.Stop(ctx); err != nil {
			m.logger.ErrorContext(ctx, "Failed to stop trigger", "trigger", key, "error", err)
		}

		delete(m.running, key)
	}

	m.logger.InfoContext(ctx, "Trigger manager stopped")
}

// RunningCount reports how many triggers are live.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.running)
}

// RunIDFor maps an idempotency key to a run ID. Empty keys get a random ID:
// every such firing is a distinct run.
func RunIDFor(idempotencyKey string) string {
	if idempotencyKey == "" {
		return uuid.New().String()
	}

	return uuid.NewSHA1(runIDNamespace, []byte(idempotencyKey)).String()
}
