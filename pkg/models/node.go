package models

import "time"

// Built-in node type tags. The registry is open: externally registered
// handlers may add their own tags.
const (
	NodeTypeTrigger     = "trigger"
	NodeTypeQuery       = "query"
	NodeTypeAgent       = "agent"
	NodeTypeTransform   = "transform"
	NodeTypeAction      = "action"
	NodeTypeCode        = "code"
	NodeTypeSubworkflow = "subworkflow"
)

// NodeSpec describes one node in a workflow definition. It is owned by the
// definition and never mutated after publish.
type NodeSpec struct {
	ID     string         `json:"id"     validate:"required"`
	Type   string         `json:"type"   validate:"required"`
	Name   string         `json:"name"   validate:"required,min=1"`
	Config map[string]any `json:"config"`

	Retry   RetryPolicy   `json:"retry"`
	Timeout time.Duration `json:"timeout,omitempty"`

	// Optional nodes that exhaust their retries are skipped with empty
	// output instead of failing the run.
	Optional bool `json:"optional,omitempty"`

	// RequiresApproval suspends the run until a human decision arrives
	// before this node executes.
	RequiresApproval bool `json:"requires_approval,omitempty"`

	// ApprovalDeadline bounds how long an approval request may stay
	// pending before it expires. Zero means the gate default applies.
	ApprovalDeadline time.Duration `json:"approval_deadline,omitempty"`

	// Loop marks the node as loop-capable: it may sit on a graph cycle and
	// re-executes until MaxIterations is reached.
	Loop          bool `json:"loop,omitempty"`
	MaxIterations int  `json:"max_iterations,omitempty"`
}

// EffectiveTimeout returns the node timeout, falling back to the given
// default when the node does not set one.
func (n *NodeSpec) EffectiveTimeout(fallback time.Duration) time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}

	return fallback
}
