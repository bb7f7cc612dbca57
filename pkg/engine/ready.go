package engine

import (
	"fmt"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/template"
)

// schedule is one scheduling decision over an immutable definition and the
// run's current trace. The computation is pure: the same definition and the
// same trace always produce the same decision, with ties broken by node
// declaration order. That determinism is what makes crash replay converge.
type schedule struct {
	// Ready holds nodes whose dependencies are satisfied and which may be
	// dispatched now, in declaration order.
	Ready []*models.NodeSpec

	// Skipped holds nodes that can never execute in this run because an
	// incoming edge guard evaluated false after all sources settled.
	Skipped []*models.NodeSpec

	// GuardErrors holds nodes whose edge guard failed to evaluate. A guard
	// that cannot be evaluated is a definition bug, not a transient fault.
	GuardErrors []guardError
}

type guardError struct {
	Node *models.NodeSpec
	Err  error
}

// computeSchedule derives the next scheduling decision for the run. A node is
// ready when every incoming edge's source has settled successfully (or was
// skipped) and every edge guard evaluates true. Loop-capable nodes ignore
// edges arriving from inside their own cycle, and stay ready after each
// successful iteration until their iteration budget is spent.
func computeSchedule(def *models.WorkflowDefinition, run *models.Run) schedule {
	var s schedule

	for _, node := range def.Nodes {
		if nodeSettled(run, node) {
			continue
		}

		if exhausted(run, node) {
			continue
		}

		eligible, skipped, err := dependenciesSatisfied(def, run, node)

		switch {
		case err != nil:
			s.GuardErrors = append(s.GuardErrors, guardError{Node: node, Err: err})
		case skipped:
			s.Skipped = append(s.Skipped, node)
		case eligible:
			s.Ready = append(s.Ready, node)
		}
	}

	return s
}

// nodeSettled reports whether the node has reached its final outcome for this
// run. A successful loop node with remaining iterations is not settled.
func nodeSettled(run *models.Run, node *models.NodeSpec) bool {
	outcome, ok := run.LatestOutcome(node.ID)
	if !ok {
		return false
	}

	switch outcome {
	case models.StepOutcomeSkipped, models.StepOutcomeFatalFailure:
		return true
	case models.StepOutcomeSuccess:
		return !node.Loop || loopFinished(run, node)
	default:
		return false
	}
}

// exhausted reports whether the node's last attempt failed and no retry
// budget remains. The engine settles such nodes itself; the scheduler must
// not offer them again.
func exhausted(run *models.Run, node *models.NodeSpec) bool {
	outcome, ok := run.LatestOutcome(node.ID)
	if !ok || outcome != models.StepOutcomeRetryableFailure {
		return false
	}

	return attemptsInIteration(run, node) >= node.Retry.WithDefaults().MaxAttempts
}

// attemptsInIteration counts attempts since the node's last success, so loop
// nodes get a fresh retry budget each iteration.
func attemptsInIteration(run *models.Run, node *models.NodeSpec) int {
	steps := run.StepsFor(node.ID)

	count := 0

	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Outcome == models.StepOutcomeSuccess {
			break
		}

		count++
	}

	return count
}

// loopFinished reports whether a loop node has no further iterations: the
// iteration cap is reached or the last iteration reported done.
func loopFinished(run *models.Run, node *models.NodeSpec) bool {
	if run.Iterations[node.ID] >= node.MaxIterations {
		return true
	}

	if output, ok := run.State[node.ID].(map[string]any); ok {
		if done, ok := output["done"].(bool); ok && done {
			return true
		}
	}

	return false
}

// dependenciesSatisfied inspects the node's incoming edges. It returns
// eligible=true when the node may run, skipped=true when a guard settled
// false, or an error when a guard could not be evaluated. While any source is
// still unsettled the node is simply not eligible yet.
func dependenciesSatisfied(def *models.WorkflowDefinition, run *models.Run, node *models.NodeSpec) (eligible, skipped bool, err error) {
	guardFalse := false

	for _, edge := range def.IncomingEdges(node.ID) {
		if node.Loop && reachable(def, node.ID, edge.SourceID) {
			// Edge returning from inside the node's own cycle. Iteration
			// accounting replaces it; waiting on it would deadlock.
			continue
		}

		source := def.NodeByID(edge.SourceID)

		outcome, ok := run.LatestOutcome(edge.SourceID)
		if !ok {
			return false, false, nil
		}

		switch outcome {
		case models.StepOutcomeSuccess:
			if source != nil && source.Loop && !loopFinished(run, source) {
				return false, false, nil
			}
		case models.StepOutcomeSkipped:
			// A skipped source satisfies the dependency with empty output.
		default:
			return false, false, nil
		}

		if edge.Guard == "" {
			continue
		}

		pass, guardErr := evaluateGuard(edge.Guard, run)
		if guardErr != nil {
			return false, false, fmt.Errorf("guard on edge %s -> %s: %w", edge.SourceID, edge.TargetID, guardErr)
		}

		if !pass {
			guardFalse = true
		}
	}

	if guardFalse {
		return false, true, nil
	}

	return true, false, nil
}

func evaluateGuard(guard string, run *models.Run) (bool, error) {
	rendered, err := template.RenderWithContext(guard, &template.RenderContext{
		RunID:       run.ID,
		WorkflowID:  run.WorkflowID,
		State:       run.State,
		TriggerData: run.TriggerData,
		Variables:   run.Variables,
	})
	if err != nil {
		return false, err
	}

	return models.GuardInterpreter{}.Evaluate(rendered)
}

// reachable reports whether to can be reached from from following edges.
func reachable(def *models.WorkflowDefinition, from, to string) bool {
	visited := make(map[string]bool, len(def.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		if id == to {
			return true
		}

		if visited[id] {
			return false
		}

		visited[id] = true

		for _, edge := range def.OutgoingEdges(id) {
			if visit(edge.TargetID) {
				return true
			}
		}

		return false
	}

	for _, edge := range def.OutgoingEdges(from) {
		if visit(edge.TargetID) {
			return true
		}
	}

	return false
}
