// Package transform provides the data transformation node type. It evaluates
// a template expression over run state and records the result as the node's
// output.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/template"
)

type Node struct {
	id         string
	expression string
}

func NewNode(id string, config map[string]any) (*Node, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, protocol.Fatalf("transform node %s: missing 'expression' in configuration", id)
	}

	return &Node{id: id, expression: expression}, nil
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Executing transform node")

	result, err := template.RenderWithContext(n.expression, renderContext(execCtx))
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	if output, ok := result.(map[string]any); ok {
		return output, nil
	}

	return map[string]any{"value": result}, nil
}

func renderContext(execCtx models.ExecutionContext) *template.RenderContext {
	return &template.RenderContext{
		RunID:       execCtx.RunID,
		WorkflowID:  execCtx.WorkflowID,
		State:       execCtx.State,
		TriggerData: execCtx.TriggerData,
		Variables:   execCtx.Variables,
	}
}
