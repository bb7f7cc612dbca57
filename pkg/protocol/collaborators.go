package protocol

import (
	"context"
	"time"
)

// DataSource is the narrow interface the query node type calls. Domain data
// layers (relational, graph, cache) live outside the engine and are injected
// at registry construction.
type DataSource interface {
	Query(ctx context.Context, query string, params map[string]any) (map[string]any, error)
}

// AgentGateway is the narrow interface the agent node type calls. Concrete
// LLM provider clients are external collaborators.
type AgentGateway interface {
	Invoke(ctx context.Context, prompt string, input map[string]any) (map[string]any, error)
}

// SubworkflowRunner starts a child run and waits for its terminal state.
// The execution engine implements it; the subworkflow node type consumes it.
type SubworkflowRunner interface {
	RunSubworkflow(ctx context.Context, workflowID string, triggerData map[string]any, depth int) (map[string]any, error)
}

// SinkRecord is one observability record emitted at every run transition.
type SinkRecord struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	NodeID     string    `json:"node_id,omitempty"`
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Sink receives observability records. Format and backend are an external
// concern: log, metrics, or a tracing collector.
type Sink interface {
	Emit(ctx context.Context, record SinkRecord)
}
