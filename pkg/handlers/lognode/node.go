// Package lognode provides a node type that writes a templated message to
// the structured log. Useful as a tracing breadcrumb inside workflows.
package lognode

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/template"
)

type Node struct {
	id      string
	message string
	level   string
}

func NewNode(id string, config map[string]any) *Node {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	return &Node{id: id, message: message, level: level}
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	message := n.message

	if message != "" {
		rendered, err := template.RenderWithContext(message, &template.RenderContext{
			RunID:       execCtx.RunID,
			WorkflowID:  execCtx.WorkflowID,
			State:       execCtx.State,
			TriggerData: execCtx.TriggerData,
			Variables:   execCtx.Variables,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render log message: %w", err)
		}

		message = fmt.Sprintf("%v", rendered)
	}

	switch n.level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message}, nil
}
