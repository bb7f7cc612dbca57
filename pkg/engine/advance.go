package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orchid-run/orchid/pkg/events"
	"github.com/orchid-run/orchid/pkg/models"
)

// nodeResult is one completed node attempt, delivered to the scheduling
// goroutine in true completion order.
type nodeResult struct {
	node     *models.NodeSpec
	attempt  int
	output   map[string]any
	err      *NodeError
	started  time.Time
	finished time.Time
}

// advancement is the state of one Advance call. All fields are owned by the
// scheduling goroutine; pool goroutines only send into results.
type advancement struct {
	engine *Engine
	def    *models.WorkflowDefinition
	run    *models.Run

	results    chan nodeResult
	retryReady chan string
	done       chan struct{}

	inflight     map[string]bool
	waitingRetry map[string]bool
	timers       []*time.Timer

	failing    bool
	failNodeID string
	failErr    string

	pauseNode *models.NodeSpec
}

func (a *advancement) shutdown() {
	close(a.done)

	for _, timer := range a.timers {
		timer.Stop()
	}
}

// drive is the scheduling loop: dispatch ready nodes, collect completions,
// checkpoint after every node boundary, and finalize when no work remains.
func (a *advancement) drive(ctx context.Context) (*Outcome, error) {
	for {
		progressed := false

		if !a.failing {
			// The trace is the durable failure record: a fatal step
			// checkpointed before a crash, or landed while an approval
			// pause was armed, must settle the run as failed.
			if nodeID, message, failed := failedNodeFromTrace(a.def, a.run); failed {
				a.fail(nodeID, message)
			}
		}

		if !a.failing && !a.run.CancelRequested && a.pauseNode == nil {
			sched := computeSchedule(a.def, a.run)

			if len(sched.GuardErrors) > 0 {
				if err := a.settleGuardError(ctx, sched.GuardErrors[0]); err != nil {
					return nil, err
				}

				continue
			}

			for _, node := range sched.Skipped {
				if err := a.skip(ctx, node, "edge guard evaluated false"); err != nil {
					return nil, err
				}

				progressed = true
			}

			if progressed {
				// Skips can unlock downstream nodes; recompute.
				continue
			}

			if _, err := a.dispatchReady(ctx, sched.Ready); err != nil {
				return nil, err
			}
		}

		if a.pauseNode != nil && !a.failing && !a.run.CancelRequested && len(a.inflight) == 0 {
			return a.pause(ctx)
		}

		if len(a.inflight) == 0 && len(a.waitingRetry) == 0 {
			return a.finalize(ctx)
		}

		select {
		case result := <-a.results:
			delete(a.inflight, result.node.ID)

			if ctx.Err() != nil && result.err != nil && errors.Is(result.err, context.Canceled) {
				// Worker shutdown surfaced through the handler. The attempt
				// was interrupted, not failed; the run resumes elsewhere.
				return outcomeOf(a.run), ctx.Err()
			}

			if err := a.applyResult(ctx, result); err != nil {
				return nil, err
			}
		case nodeID := <-a.retryReady:
			delete(a.waitingRetry, nodeID)
		case <-ctx.Done():
			// Worker shutdown. The run stays running in the store; another
			// worker resumes it from the last checkpoint.
			return outcomeOf(a.run), ctx.Err()
		}
	}
}

// dispatchReady submits every dispatchable ready node to the pool. Nodes
// requiring an unresolved approval arm the pause instead.
func (a *advancement) dispatchReady(ctx context.Context, ready []*models.NodeSpec) (bool, error) {
	dispatched := false

	for _, node := range ready {
		if a.inflight[node.ID] || a.waitingRetry[node.ID] {
			continue
		}

		if node.RequiresApproval && !a.run.ApprovedNodes[node.ID] {
			if a.pauseNode == nil {
				a.pauseNode = node
			}

			continue
		}

		if err := a.dispatch(ctx, node); err != nil {
			return dispatched, err
		}

		dispatched = true
	}

	return dispatched, nil
}

func (a *advancement) dispatch(ctx context.Context, node *models.NodeSpec) error {
	attempt := attemptsInIteration(a.run, node) + 1
	execCtx := models.NewExecutionContext(a.run, node, attempt)
	started := time.Now().UTC()

	a.inflight[node.ID] = true

	a.engine.publish(ctx, a.run.ID, events.NodeStarted{
		BaseEvent: a.engine.baseEvent(events.NodeStartedEvent, a.run.WorkflowID),
		RunID:     a.run.ID,
		NodeID:    node.ID,
		Attempt:   attempt,
	})
	a.engine.emit(ctx, a.run, node.ID, string(events.NodeStartedEvent), 0)

	err := a.engine.pool.Submit(func() {
		output, nodeErr := a.engine.executor.execute(ctx, execCtx, node)

		result := nodeResult{
			node:     node,
			attempt:  attempt,
			output:   output,
			err:      nodeErr,
			started:  started,
			finished: time.Now().UTC(),
		}

		select {
		case a.results <- result:
		case <-a.done:
		}
	})
	if err != nil {
		delete(a.inflight, node.ID)

		return fmt.Errorf("submitting node %s: %w", node.ID, err)
	}

	return nil
}

// applyResult folds one completed attempt into the run and checkpoints.
func (a *advancement) applyResult(ctx context.Context, result nodeResult) error {
	node := result.node
	duration := result.finished.Sub(result.started)

	if result.err == nil {
		return a.applySuccess(ctx, result, duration)
	}

	step := models.StepRecord{
		NodeID:     node.ID,
		Attempt:    result.attempt,
		StartedAt:  result.started,
		FinishedAt: result.finished,
		Error:      result.err.Error(),
	}

	if result.err.Retryable() {
		step.Outcome = models.StepOutcomeRetryableFailure
	} else {
		step.Outcome = models.StepOutcomeFatalFailure
	}

	a.run.AppendStep(step)

	if err := a.checkpoint(ctx); err != nil {
		return err
	}

	a.engine.publish(ctx, a.run.ID, events.NodeFailed{
		BaseEvent:  a.engine.baseEvent(events.NodeFailedEvent, a.run.WorkflowID),
		RunID:      a.run.ID,
		NodeID:     node.ID,
		Attempt:    result.attempt,
		Outcome:    step.Outcome,
		Error:      step.Error,
		DurationMs: duration.Milliseconds(),
	})
	a.engine.emit(ctx, a.run, node.ID, string(events.NodeFailedEvent), duration)

	if step.Outcome == models.StepOutcomeFatalFailure {
		a.fail(node.ID, step.Error)

		return nil
	}

	return a.afterRetryableFailure(ctx, node, result.attempt)
}

func (a *advancement) applySuccess(ctx context.Context, result nodeResult, duration time.Duration) error {
	node := result.node

	if node.Loop {
		if a.run.Iterations == nil {
			a.run.Iterations = make(map[string]int)
		}

		a.run.Iterations[node.ID]++
		a.run.OverwriteOutput(node.ID, result.output)
	} else if err := a.run.MergeOutput(node.ID, result.output); err != nil {
		// A second write to the node's state key means the scheduler
		// re-dispatched a settled node. Fail loudly rather than corrupt state.
		a.fail(node.ID, err.Error())

		return a.checkpoint(ctx)
	}

	a.run.AppendStep(models.StepRecord{
		NodeID:     node.ID,
		Attempt:    result.attempt,
		StartedAt:  result.started,
		FinishedAt: result.finished,
		Outcome:    models.StepOutcomeSuccess,
		Output:     result.output,
	})

	if err := a.checkpoint(ctx); err != nil {
		return err
	}

	a.engine.publish(ctx, a.run.ID, events.NodeFinished{
		BaseEvent:  a.engine.baseEvent(events.NodeFinishedEvent, a.run.WorkflowID),
		RunID:      a.run.ID,
		NodeID:     node.ID,
		Attempt:    result.attempt,
		Output:     result.output,
		DurationMs: duration.Milliseconds(),
	})
	a.engine.emit(ctx, a.run, node.ID, string(events.NodeFinishedEvent), duration)

	return nil
}

// afterRetryableFailure schedules the next attempt, or settles the node when
// the retry budget is spent: optional nodes are skipped, required nodes fail
// the run.
func (a *advancement) afterRetryableFailure(ctx context.Context, node *models.NodeSpec, attempt int) error {
	if a.run.CancelRequested {
		return nil
	}

	policy := node.Retry.WithDefaults()

	if attempt < policy.MaxAttempts {
		a.scheduleRetry(node, attempt)

		return nil
	}

	if node.Optional {
		return a.skip(ctx, node, fmt.Sprintf("retries exhausted after %d attempts", attempt))
	}

	a.fail(node.ID, fmt.Sprintf("retries exhausted after %d attempts", attempt))

	return nil
}

func (a *advancement) scheduleRetry(node *models.NodeSpec, attempt int) {
	delay := a.engine.backoff.NextDelay(node.Retry, attempt)

	a.waitingRetry[node.ID] = true

	timer := time.AfterFunc(delay, func() {
		select {
		case a.retryReady <- node.ID:
		case <-a.done:
		}
	})

	a.timers = append(a.timers, timer)
}

// skip settles a node without executing it. Downstream nodes see an empty
// output under the node's state key.
func (a *advancement) skip(ctx context.Context, node *models.NodeSpec, reason string) error {
	now := time.Now().UTC()

	if _, exists := a.run.State[node.ID]; !exists {
		if err := a.run.MergeOutput(node.ID, map[string]any{}); err != nil {
			return err
		}
	}

	a.run.AppendStep(models.StepRecord{
		NodeID:     node.ID,
		Attempt:    a.run.Attempts(node.ID) + 1,
		StartedAt:  now,
		FinishedAt: now,
		Outcome:    models.StepOutcomeSkipped,
		Error:      reason,
	})

	if err := a.checkpoint(ctx); err != nil {
		return err
	}

	a.engine.logger.InfoContext(ctx, "Node skipped",
		"run_id", a.run.ID, "node_id", node.ID, "reason", reason)
	a.engine.emit(ctx, a.run, node.ID, "node.skipped", 0)

	return nil
}

// settleGuardError records a fatal failure for a node whose edge guard could
// not be evaluated. The definition is broken; retrying cannot help.
func (a *advancement) settleGuardError(ctx context.Context, ge guardError) error {
	now := time.Now().UTC()

	a.run.AppendStep(models.StepRecord{
		NodeID:     ge.Node.ID,
		Attempt:    a.run.Attempts(ge.Node.ID) + 1,
		StartedAt:  now,
		FinishedAt: now,
		Outcome:    models.StepOutcomeFatalFailure,
		Error:      ge.Err.Error(),
	})

	if err := a.checkpoint(ctx); err != nil {
		return err
	}

	a.engine.publish(ctx, a.run.ID, events.NodeFailed{
		BaseEvent: a.engine.baseEvent(events.NodeFailedEvent, a.run.WorkflowID),
		RunID:     a.run.ID,
		NodeID:    ge.Node.ID,
		Outcome:   models.StepOutcomeFatalFailure,
		Error:     ge.Err.Error(),
	})

	a.fail(ge.Node.ID, ge.Err.Error())

	return nil
}

func (a *advancement) fail(nodeID, message string) {
	if a.failing {
		return
	}

	a.failing = true
	a.failNodeID = nodeID
	a.failErr = message
}

// finalize settles the run once no node is in flight and no retry pending.
// Failure is derived from the trace, not the in-memory flag alone, so a
// resumed advancement cannot report success over a checkpointed failure.
func (a *advancement) finalize(ctx context.Context) (*Outcome, error) {
	if nodeID, message, failed := failedNodeFromTrace(a.def, a.run); failed {
		a.fail(nodeID, message)
	}

	switch {
	case a.failing:
		return a.finish(ctx, models.RunStatusFailed, models.FailureReasonNodeFailed)
	case a.run.CancelRequested:
		return a.finish(ctx, models.RunStatusCancelled, "")
	case allSettled(a.def, a.run):
		return a.finish(ctx, models.RunStatusSucceeded, "")
	default:
		// Unsettled nodes remain but nothing is dispatchable. A broken
		// definition slipped past validation; fail rather than spin.
		a.fail("", "scheduler made no progress with unsettled nodes remaining")

		return a.finish(ctx, models.RunStatusFailed, models.FailureReasonNodeFailed)
	}
}

func (a *advancement) finish(ctx context.Context, status models.RunStatus, reason string) (*Outcome, error) {
	run := a.run

	if err := run.TransitionTo(status); err != nil {
		return nil, err
	}

	run.FailureReason = reason
	run.Cursor = nil

	// Terminal checkpoints must land even when the worker context is gone.
	if err := a.engine.checkpoint(context.WithoutCancel(ctx), run); err != nil {
		return nil, err
	}

	duration := time.Since(run.CreatedAt)

	switch status {
	case models.RunStatusSucceeded:
		a.engine.publish(ctx, run.ID, events.RunCompleted{
			BaseEvent:     a.engine.baseEvent(events.RunCompletedEvent, run.WorkflowID),
			RunID:         run.ID,
			DurationMs:    duration.Milliseconds(),
			NodesExecuted: len(run.Trace),
			FinalState:    run.State,
		})
		a.engine.emit(ctx, run, "", string(events.RunCompletedEvent), duration)
	case models.RunStatusFailed:
		a.engine.publish(ctx, run.ID, events.RunFailed{
			BaseEvent:     a.engine.baseEvent(events.RunFailedEvent, run.WorkflowID),
			RunID:         run.ID,
			Reason:        reason,
			NodeID:        a.failNodeID,
			Error:         a.failErr,
			DurationMs:    duration.Milliseconds(),
			NodesExecuted: len(run.Trace),
		})
		a.engine.emit(ctx, run, a.failNodeID, string(events.RunFailedEvent), duration)
	case models.RunStatusCancelled:
		a.engine.publish(ctx, run.ID, events.RunCancelled{
			BaseEvent:     a.engine.baseEvent(events.RunCancelledEvent, run.WorkflowID),
			RunID:         run.ID,
			DurationMs:    duration.Milliseconds(),
			NodesExecuted: len(run.Trace),
		})
		a.engine.emit(ctx, run, "", string(events.RunCancelledEvent), duration)
	}

	a.engine.logger.InfoContext(ctx, "Run finished",
		"run_id", run.ID,
		"status", status,
		"nodes_executed", len(run.Trace),
		"duration_ms", duration.Milliseconds())

	return outcomeOf(run), nil
}

// pause suspends the run on an approval gate once in-flight work drained.
func (a *advancement) pause(ctx context.Context) (*Outcome, error) {
	node := a.pauseNode
	run := a.run

	request, err := a.engine.gate.Request(ctx, run, node, map[string]any{
		"node_name": node.Name,
		"node_type": node.Type,
	})
	if err != nil {
		return nil, err
	}

	run.PendingApprovalID = request.ID

	if err := run.TransitionTo(models.RunStatusWaitingApproval); err != nil {
		return nil, err
	}

	if err := a.checkpoint(ctx); err != nil {
		return nil, err
	}

	a.engine.publish(ctx, run.ID, events.RunPaused{
		BaseEvent:  a.engine.baseEvent(events.RunPausedEvent, run.WorkflowID),
		RunID:      run.ID,
		NodeID:     node.ID,
		ApprovalID: request.ID,
	})
	a.engine.emit(ctx, run, node.ID, string(events.RunPausedEvent), 0)

	return outcomeOf(run), nil
}

// resumeFromApproval inspects the pending approval of a suspended run. It
// returns true when the run may continue executing.
func (a *advancement) resumeFromApproval(ctx context.Context) (bool, error) {
	run := a.run

	if run.PendingApprovalID == "" {
		return false, fmt.Errorf("run %s is waiting for approval but has no pending request", run.ID)
	}

	request, err := a.engine.gate.ExpireIfDue(ctx, run.PendingApprovalID)
	if err != nil {
		return false, err
	}

	switch request.Status {
	case models.ApprovalStatusPending:
		return false, nil
	case models.ApprovalStatusApproved:
		if run.ApprovedNodes == nil {
			run.ApprovedNodes = make(map[string]bool)
		}

		run.ApprovedNodes[request.NodeID] = true
		run.PendingApprovalID = ""

		if err := run.TransitionTo(models.RunStatusRunning); err != nil {
			return false, err
		}

		if err := a.checkpoint(ctx); err != nil {
			return false, err
		}

		a.engine.emit(ctx, run, request.NodeID, string(events.RunResumedEvent), 0)

		return true, nil
	case models.ApprovalStatusRejected:
		return false, a.failFromApproval(ctx, request.NodeID, models.FailureReasonApprovalDenied, "approval rejected by "+request.ResolvedBy)
	default:
		return false, a.failFromApproval(ctx, request.NodeID, models.FailureReasonApprovalExpired, "approval deadline expired")
	}
}

func (a *advancement) failFromApproval(ctx context.Context, nodeID, reason, message string) error {
	a.fail(nodeID, message)

	a.run.PendingApprovalID = ""

	_, err := a.finish(ctx, models.RunStatusFailed, reason)

	return err
}

// checkpoint refreshes the resume cursor and writes the run snapshot.
func (a *advancement) checkpoint(ctx context.Context) error {
	a.run.Cursor = unsettledNodeIDs(a.def, a.run)

	return a.engine.checkpoint(ctx, a.run)
}

func unsettledNodeIDs(def *models.WorkflowDefinition, run *models.Run) []string {
	var ids []string

	for _, node := range def.Nodes {
		if !nodeSettled(run, node) {
			ids = append(ids, node.ID)
		}
	}

	return ids
}

// failedNodeFromTrace scans the trace for a node whose recorded failure
// settles the run: a fatal failure, or a required node with no retry budget
// left. Returns the node ID and its last recorded error.
func failedNodeFromTrace(def *models.WorkflowDefinition, run *models.Run) (string, string, bool) {
	for _, node := range def.Nodes {
		outcome, ok := run.LatestOutcome(node.ID)
		if !ok {
			continue
		}

		switch outcome {
		case models.StepOutcomeFatalFailure:
			return node.ID, lastStepError(run, node.ID), true
		case models.StepOutcomeRetryableFailure:
			if !node.Optional && attemptsInIteration(run, node) >= node.Retry.WithDefaults().MaxAttempts {
				return node.ID, lastStepError(run, node.ID), true
			}
		}
	}

	return "", "", false
}

func lastStepError(run *models.Run, nodeID string) string {
	steps := run.StepsFor(nodeID)
	if len(steps) == 0 {
		return ""
	}

	return steps[len(steps)-1].Error
}

func allSettled(def *models.WorkflowDefinition, run *models.Run) bool {
	for _, node := range def.Nodes {
		if !nodeSettled(run, node) {
			return false
		}
	}

	return true
}
