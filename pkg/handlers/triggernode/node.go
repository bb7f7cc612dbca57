// Package triggernode provides the entry node type. It surfaces the run's
// trigger payload into state so downstream nodes can reference it by node ID.
package triggernode

import (
	"context"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
)

type Node struct {
	id string
}

func NewNode(id string) *Node {
	return &Node{id: id}
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Executing trigger node")

	output := make(map[string]any, len(execCtx.TriggerData))
	for k, v := range execCtx.TriggerData {
		output[k] = v
	}

	return output, nil
}
