package web

import (
	"time"

	"github.com/orchid-run/orchid/pkg/models"
)

// PublishWorkflowRequest carries a complete workflow definition. Definitions
// are authored externally: publishing validates and freezes them, there is
// no draft editing surface here.
type PublishWorkflowRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"        validate:"required,min=3"`
	Description string             `json:"description"`
	Nodes       []*models.NodeSpec `json:"nodes"       validate:"required,min=1,dive"`
	Edges       []*models.Edge     `json:"edges"       validate:"dive"`
	Variables   map[string]any     `json:"variables,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Owner       string             `json:"owner"`
}

// StartRunRequest starts a manual run of a published workflow.
type StartRunRequest struct {
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	// IdempotencyKey makes retried start requests collapse into one run.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// StartRunResponse acknowledges that a run was requested. The run executes
// asynchronously on a worker.
type StartRunResponse struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// RunResponse is the run snapshot plus its step trace.
type RunResponse struct {
	ID            string              `json:"id"`
	WorkflowID    string              `json:"workflow_id"`
	Status        models.RunStatus    `json:"status"`
	State         map[string]any      `json:"state"`
	TriggerData   map[string]any      `json:"trigger_data,omitempty"`
	Trace         []models.StepRecord `json:"trace"`
	FailureReason string              `json:"failure_reason,omitempty"`
	PendingApproval string            `json:"pending_approval_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// ResolveApprovalRequest records a human decision on a pending approval.
type ResolveApprovalRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Actor    string `json:"actor"    validate:"required"`
}
