// Package events defines event types and structures for run lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/orchid-run/orchid/pkg/models"
)

type EventType string

// Topic is the event bus topic carrying all run lifecycle events.
const Topic = "orchid.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger-side events.
	RunTriggeredEvent EventType = "run.triggered"

	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"
	RunPausedEvent    EventType = "run.paused"
	RunResumedEvent   EventType = "run.resumed"

	// Node-level events.
	NodeStartedEvent  EventType = "node.started"
	NodeFinishedEvent EventType = "node.finished"
	NodeFailedEvent   EventType = "node.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// RunTriggered is published by the trigger manager when an external stimulus
// asks for a new run.
type RunTriggered struct {
	BaseEvent

	RunID          string         `json:"run_id"`
	Source         string         `json:"source"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func (e RunTriggered) GetType() EventType { return RunTriggeredEvent }

type RunStarted struct {
	BaseEvent

	RunID        string         `json:"run_id"`
	WorkflowName string         `json:"workflow_name"`
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunCompleted struct {
	BaseEvent

	RunID         string         `json:"run_id"`
	DurationMs    int64          `json:"duration_ms"`
	NodesExecuted int            `json:"nodes_executed"`
	FinalState    map[string]any `json:"final_state,omitempty"`
}

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

type RunFailed struct {
	BaseEvent

	RunID         string `json:"run_id"`
	Reason        string `json:"reason"`
	NodeID        string `json:"node_id,omitempty"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	NodesExecuted int    `json:"nodes_executed"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type RunCancelled struct {
	BaseEvent

	RunID         string `json:"run_id"`
	CancelledBy   string `json:"cancelled_by,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	NodesExecuted int    `json:"nodes_executed"`
}

func (e RunCancelled) GetType() EventType { return RunCancelledEvent }

// RunPaused is published when a run suspends on an approval gate.
type RunPaused struct {
	BaseEvent

	RunID        string         `json:"run_id"`
	NodeID       string         `json:"node_id"`
	ApprovalID   string         `json:"approval_id"`
	ApprovalData map[string]any `json:"approval_data,omitempty"`
}

func (e RunPaused) GetType() EventType { return RunPausedEvent }

// RunResumed is published when an approval decision releases a run. Workers
// subscribe to it and advance the run again.
type RunResumed struct {
	BaseEvent

	RunID      string `json:"run_id"`
	ApprovalID string `json:"approval_id"`
	Decision   string `json:"decision"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

func (e RunResumed) GetType() EventType { return RunResumedEvent }

type NodeStarted struct {
	BaseEvent

	RunID   string `json:"run_id"`
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
}

func (e NodeStarted) GetType() EventType { return NodeStartedEvent }

type NodeFinished struct {
	BaseEvent

	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	Attempt    int            `json:"attempt"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e NodeFinished) GetType() EventType { return NodeFinishedEvent }

type NodeFailed struct {
	BaseEvent

	RunID      string             `json:"run_id"`
	NodeID     string             `json:"node_id"`
	Attempt    int                `json:"attempt"`
	Outcome    models.StepOutcome `json:"outcome"`
	Error      string             `json:"error"`
	DurationMs int64              `json:"duration_ms"`
}

func (e NodeFailed) GetType() EventType { return NodeFailedEvent }
