// Package web provides the REST facade: publishing workflow definitions,
// starting and inspecting runs, and resolving approval gates. Execution
// itself happens on workers; the API only writes intents.
package web

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/engine"
	"github.com/orchid-run/orchid/pkg/eventbus"
	"github.com/orchid-run/orchid/pkg/events"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/registry"
	"github.com/orchid-run/orchid/pkg/store"
	"github.com/orchid-run/orchid/pkg/triggers"
)

const cancelRetries = 5

type APIHandlers struct {
	logger    *slog.Logger
	store     store.Store
	registry  *registry.Registry
	gate      *approval.Gate
	bus       eventbus.EventPublisher
	validator *validator.Validate
}

func NewAPIHandlers(
	logger *slog.Logger,
	st store.Store,
	reg *registry.Registry,
	gate *approval.Gate,
	bus eventbus.EventPublisher,
) *APIHandlers {
	return &APIHandlers{
		logger:    logger.With("module", "web"),
		store:     st,
		registry:  reg,
		gate:      gate,
		bus:       bus,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.store.Workflows().List(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "workflow ID is required")
	}

	workflow, err := h.store.Workflows().GetByID(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

// PublishWorkflow validates a complete definition and stores it published.
// Rejected definitions never reach the store, so the engine can assume
// every definition it loads passed validation.
func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	var req PublishWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	workflow := &models.WorkflowDefinition{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.WorkflowStatusPublished,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Variables:   req.Variables,
		Metadata:    req.Metadata,
		Owner:       req.Owner,
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}

	if err := h.registry.ValidateWorkflow(h.validator, workflow); err != nil {
		return handleError(c, err)
	}

	if err := h.store.Workflows().Save(c.Context(), workflow); err != nil {
		return handleError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Workflow published",
		"workflow_id", workflow.ID, "nodes", len(workflow.Nodes))

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

// StartRun requests a manual run. It publishes a RunTriggered event rather
// than executing in-process; a worker picks it up, creates the run and
// advances it.
func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "workflow ID is required")
	}

	var req StartRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	workflow, err := h.store.Workflows().GetByID(c.Context(), workflowID)
	if err != nil {
		return handleError(c, err)
	}

	if workflow.Status != models.WorkflowStatusPublished {
		return conflict(c, "workflow is not published")
	}

	runID := triggers.RunIDFor(req.IdempotencyKey)

	event := events.RunTriggered{
		BaseEvent:      events.NewBaseEvent(events.RunTriggeredEvent, workflowID),
		RunID:          runID,
		Source:         "manual",
		TriggerData:    req.TriggerData,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := h.bus.Publish(c.Context(), runID, event); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartRunResponse{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     "accepted",
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "run ID is required")
	}

	run, err := h.store.Runs().Get(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(RunResponse{
		ID:              run.ID,
		WorkflowID:      run.WorkflowID,
		Status:          run.Status,
		State:           run.State,
		TriggerData:     run.TriggerData,
		Trace:           run.Trace,
		FailureReason:   run.FailureReason,
		PendingApproval: run.PendingApprovalID,
		CreatedAt:       run.CreatedAt,
		UpdatedAt:       run.UpdatedAt,
	})
}

// CancelRun flags the run for cooperative cancellation. The engine observes
// the flag at the next node boundary.
func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "run ID is required")
	}

	actor := c.Query("actor", "api")

	err := engine.RequestCancel(c.Context(), h.logger, h.store.Runs(), id, actor, cancelRetries)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id": id,
		"status": "cancel_requested",
	})
}

func (h *APIHandlers) ListPendingApprovals(c fiber.Ctx) error {
	pending, err := h.gate.ListPending(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"approvals":   pending,
		"total_count": len(pending),
	})
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "approval ID is required")
	}

	request, err := h.gate.Get(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "approval ID is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.gate.Resolve(c.Context(), id, models.ApprovalStatus(req.Decision), req.Actor)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := fiber.StatusOK

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = fiber.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
