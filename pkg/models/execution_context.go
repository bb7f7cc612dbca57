package models

// ExecutionContext is the envelope a node handler receives. State is a
// snapshot: handlers must return a delta rather than mutate it in place.
type ExecutionContext struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     string         `json:"node_id"`
	Attempt    int            `json:"attempt"`
	State      map[string]any `json:"state,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`

	// IdempotencyKey is stable across retries and checkpoint replays of the
	// same node. Side-effecting handlers key their external writes by it so
	// a crash between "side effect performed" and "checkpoint written" does
	// not double-execute the effect.
	IdempotencyKey string `json:"idempotency_key"`
}

// NewExecutionContext builds the handler envelope for one node attempt.
func NewExecutionContext(run *Run, node *NodeSpec, attempt int) ExecutionContext {
	return ExecutionContext{
		RunID:          run.ID,
		WorkflowID:     run.WorkflowID,
		NodeID:         node.ID,
		Attempt:        attempt,
		State:          run.Snapshot(),
		TriggerData:    run.TriggerData,
		Variables:      run.Variables,
		IdempotencyKey: run.ID + ":" + node.ID,
	}
}
