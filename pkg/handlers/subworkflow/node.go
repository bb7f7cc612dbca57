// Package subworkflow provides the composition node type: it runs another
// published workflow as a child run and records the child's final state as
// its output. Nesting depth is tracked through the child's trigger data so
// the engine can bound recursion.
package subworkflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/template"
)

// depthKey mirrors the engine's depth accounting key in trigger data.
const depthKey = "subworkflow_depth"

type Node struct {
	id         string
	workflowID string
	input      map[string]any
	runner     protocol.SubworkflowRunner
}

func NewNode(id string, config map[string]any, runner protocol.SubworkflowRunner) (*Node, error) {
	workflowID, _ := config["workflow_id"].(string)
	if workflowID == "" {
		return nil, protocol.Fatalf("subworkflow node %s: missing 'workflow_id' in configuration", id)
	}

	input, _ := config["input"].(map[string]any)

	return &Node{id: id, workflowID: workflowID, input: input, runner: runner}, nil
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Executing subworkflow node", "child_workflow_id", n.workflowID)

	triggerData, err := n.buildTriggerData(execCtx)
	if err != nil {
		return nil, err
	}

	childState, err := n.runner.RunSubworkflow(ctx, n.workflowID, triggerData, currentDepth(execCtx))
	if err != nil {
		return nil, fmt.Errorf("subworkflow %s: %w", n.workflowID, err)
	}

	return childState, nil
}

func (n *Node) buildTriggerData(execCtx models.ExecutionContext) (map[string]any, error) {
	renderCtx := &template.RenderContext{
		RunID:       execCtx.RunID,
		WorkflowID:  execCtx.WorkflowID,
		State:       execCtx.State,
		TriggerData: execCtx.TriggerData,
		Variables:   execCtx.Variables,
	}

	triggerData := make(map[string]any, len(n.input))

	for key, value := range n.input {
		if str, ok := value.(string); ok {
			rendered, err := template.RenderWithContext(str, renderCtx)
			if err != nil {
				return nil, protocol.NewFatalError(fmt.Errorf("failed to render input '%s' template: %w", key, err))
			}

			triggerData[key] = rendered

			continue
		}

		triggerData[key] = value
	}

	return triggerData, nil
}

// currentDepth reads how deeply nested this run already is. Top-level runs
// carry no depth marker.
func currentDepth(execCtx models.ExecutionContext) int {
	switch v := execCtx.TriggerData[depthKey].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
