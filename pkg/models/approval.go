package models

import "time"

// ApprovalStatus represents the state of a human approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Resolved reports whether the request has left the pending state.
func (s ApprovalStatus) Resolved() bool {
	return s != ApprovalStatusPending
}

// ApprovalRequest suspends a run pending an external human decision. It is
// created by the approval gate when a node tagged requires_approval becomes
// ready and resolved by an external actor; expiry behaves as rejection.
type ApprovalRequest struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     string         `json:"node_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Status     ApprovalStatus `json:"status"`
	Deadline   time.Time      `json:"deadline"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ExpiredAt reports whether the request is pending past its deadline.
func (a *ApprovalRequest) ExpiredAt(now time.Time) bool {
	return a.Status == ApprovalStatusPending && !a.Deadline.IsZero() && now.After(a.Deadline)
}
