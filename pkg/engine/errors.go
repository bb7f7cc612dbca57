package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orchid-run/orchid/pkg/protocol"
)

var (
	// ErrRunActive is returned by Advance when another advancement of the
	// same run is still in progress in this process.
	ErrRunActive = errors.New("run is already being advanced")

	// ErrWorkflowNotRunnable is returned when a run is started against a
	// workflow that is not published.
	ErrWorkflowNotRunnable = errors.New("workflow is not published")

	// ErrSubworkflowDepth is returned when nested subworkflow invocations
	// exceed the configured depth limit.
	ErrSubworkflowDepth = errors.New("subworkflow depth limit exceeded")
)

// ErrorKind partitions node failures by how the scheduler reacts to them.
type ErrorKind string

const (
	// ErrorKindRetryable failures are retried per the node's retry policy.
	ErrorKindRetryable ErrorKind = "retryable"
	// ErrorKindFatal failures are never retried.
	ErrorKindFatal ErrorKind = "fatal"
	// ErrorKindTimeout failures exhausted the node's execution timeout.
	// They count as retryable for policy purposes.
	ErrorKindTimeout ErrorKind = "timeout"
)

// NodeError is the engine's view of a single node attempt failure.
type NodeError struct {
	NodeID string
	Kind   ErrorKind
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the scheduler may re-dispatch after this error.
func (e *NodeError) Retryable() bool {
	return e.Kind != ErrorKindFatal
}

// NewTimeoutError builds the error recorded when a node attempt exceeds its
// execution timeout.
func NewTimeoutError(nodeID string, timeout time.Duration) *NodeError {
	return &NodeError{
		NodeID: nodeID,
		Kind:   ErrorKindTimeout,
		Err:    fmt.Errorf("execution exceeded timeout of %s", timeout),
	}
}

// classify folds an arbitrary handler error into a NodeError. Timeouts and
// explicitly fatal errors keep their kind; everything else defaults to
// retryable, matching the assumption that unmarked failures are transient.
func classify(nodeID string, err error) *NodeError {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}

	kind := ErrorKindRetryable

	switch {
	case protocol.IsFatal(err):
		kind = ErrorKindFatal
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrorKindTimeout
	}

	return &NodeError{NodeID: nodeID, Kind: kind, Err: err}
}
