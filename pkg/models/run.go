package models

import (
	"errors"
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a single workflow run.
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusRunning         RunStatus = "running"
	RunStatusWaitingApproval RunStatus = "waiting_approval"
	RunStatusSucceeded       RunStatus = "succeeded"
	RunStatusFailed          RunStatus = "failed"
	RunStatusCancelled       RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Structured failure reasons recorded on terminal runs.
const (
	FailureReasonApprovalDenied  = "approval_denied"
	FailureReasonApprovalExpired = "approval_expired"
	FailureReasonNodeFailed      = "node_failed"
)

var (
	// ErrInvalidTransition indicates a run status change that violates the
	// monotonic lifecycle.
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrStateKeyConflict indicates a node attempted to write a state key
	// already owned by another node.
	ErrStateKeyConflict = errors.New("state key already written")
)

// Run is a single execution instance of a workflow definition. It is created
// by the trigger manager, mutated exclusively by the execution engine, and
// archived rather than deleted on terminal status so the trace stays
// available for audit replay.
type Run struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Status     RunStatus `json:"status"`

	// State accumulates node outputs keyed by node ID. A key is written at
	// most once: no node may overwrite another's output.
	State map[string]any `json:"state"`

	// TriggerData is the payload the originating stimulus supplied.
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	// Variables are the definition's variables frozen at run creation.
	Variables map[string]any `json:"variables,omitempty"`

	// Cursor holds the node IDs currently pending execution. Together with
	// State and Trace it is sufficient to resume the run after a crash.
	Cursor []string `json:"cursor"`

	// Trace is the append-only sequence of executed node attempts, in true
	// completion order.
	Trace []StepRecord `json:"trace"`

	// Iterations counts completed executions per loop-capable node.
	Iterations map[string]int `json:"iterations,omitempty"`

	// PendingApprovalID references the approval request that suspended the
	// run, when Status is waiting_approval.
	PendingApprovalID string `json:"pending_approval_id,omitempty"`

	// ApprovedNodes records nodes whose approval gate has resolved to
	// approved, so replay after a checkpoint stays deterministic.
	ApprovedNodes map[string]bool `json:"approved_nodes,omitempty"`

	// CancelRequested is the cooperative cancellation flag. The engine
	// observes it at the next node boundary.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`

	// Version is the optimistic concurrency token checked on every
	// checkpoint write.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun creates a pending run for the given definition.
func NewRun(id string, definition *WorkflowDefinition, triggerData map[string]any) *Run {
	now := time.Now().UTC()

	return &Run{
		ID:          id,
		WorkflowID:  definition.ID,
		Status:      RunStatusPending,
		State:       make(map[string]any),
		TriggerData: triggerData,
		Variables:   definition.Variables,
		Iterations:  make(map[string]int),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo moves the run to the given status, enforcing monotonic
// transitions. The only backward move allowed is waiting_approval back to
// running on approval resume.
func (r *Run) TransitionTo(status RunStatus) error {
	if r.Status == status {
		return nil
	}

	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, status)
	}

	switch {
	case r.Status == RunStatusPending && status == RunStatusRunning:
	case r.Status == RunStatusRunning && !r.statusBackward(status):
	case r.Status == RunStatusWaitingApproval && (status == RunStatusRunning || status.Terminal()):
	case status == RunStatusCancelled:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, status)
	}

	r.Status = status
	r.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *Run) statusBackward(status RunStatus) bool {
	return status == RunStatusPending
}

// MergeOutput records a node's output into run state. Each node owns exactly
// one key; a second write to the same key is an error rather than
// last-write-wins.
func (r *Run) MergeOutput(nodeID string, output map[string]any) error {
	if r.State == nil {
		r.State = make(map[string]any)
	}

	if _, exists := r.State[nodeID]; exists {
		return fmt.Errorf("%w: %s", ErrStateKeyConflict, nodeID)
	}

	r.State[nodeID] = output
	r.UpdatedAt = time.Now().UTC()

	return nil
}

// OverwriteOutput replaces a loop node's previous iteration output. Only
// loop-capable nodes may rewrite their own key; the per-node ownership
// invariant still holds.
func (r *Run) OverwriteOutput(nodeID string, output map[string]any) {
	if r.State == nil {
		r.State = make(map[string]any)
	}

	r.State[nodeID] = output
	r.UpdatedAt = time.Now().UTC()
}

// AppendStep appends a step record to the trace.
func (r *Run) AppendStep(step StepRecord) {
	r.Trace = append(r.Trace, step)
	r.UpdatedAt = time.Now().UTC()
}

// StepsFor returns all recorded attempts for the given node, in completion
// order.
func (r *Run) StepsFor(nodeID string) []StepRecord {
	var steps []StepRecord

	for _, step := range r.Trace {
		if step.NodeID == nodeID {
			steps = append(steps, step)
		}
	}

	return steps
}

// LatestOutcome returns the outcome of the most recent attempt for the node
// and whether any attempt exists.
func (r *Run) LatestOutcome(nodeID string) (StepOutcome, bool) {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		if r.Trace[i].NodeID == nodeID {
			return r.Trace[i].Outcome, true
		}
	}

	return "", false
}

// Attempts returns how many attempts have been recorded for the node.
func (r *Run) Attempts(nodeID string) int {
	return len(r.StepsFor(nodeID))
}

// Completed reports whether the node has reached a settled outcome: success,
// skip, or a fatal/exhausted failure.
func (r *Run) Completed(nodeID string) bool {
	outcome, ok := r.LatestOutcome(nodeID)
	if !ok {
		return false
	}

	return outcome != StepOutcomeRetryableFailure
}

// Snapshot returns a deep-enough copy of run state for handler consumption.
// Handlers receive the copy so they cannot mutate run state in place.
func (r *Run) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(r.State))
	for k, v := range r.State {
		snapshot[k] = v
	}

	return snapshot
}
