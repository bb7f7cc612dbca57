package models

import "time"

// StepOutcome classifies one executed node attempt.
type StepOutcome string

const (
	StepOutcomeSuccess          StepOutcome = "success"
	StepOutcomeRetryableFailure StepOutcome = "retryable_failure"
	StepOutcomeFatalFailure     StepOutcome = "fatal_failure"
	StepOutcomeSkipped          StepOutcome = "skipped"
)

// StepRecord captures one executed node attempt. Records are immutable once
// written and appended to the run trace in true completion order, so a failed
// run retains exactly which node and attempt failed and why.
type StepRecord struct {
	NodeID     string         `json:"node_id"`
	Attempt    int            `json:"attempt"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    StepOutcome    `json:"outcome"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Duration returns the wall-clock duration of the attempt.
func (s StepRecord) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
