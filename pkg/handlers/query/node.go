// Package query provides the query node type. It delegates to an injected
// data source; concrete data layers never live inside node handlers.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/template"
)

type Node struct {
	id     string
	query  string
	params map[string]any
	source protocol.DataSource
}

func NewNode(id string, config map[string]any, source protocol.DataSource) (*Node, error) {
	queryStr, _ := config["query"].(string)
	if queryStr == "" {
		return nil, protocol.Fatalf("query node %s: missing 'query' in configuration", id)
	}

	params, _ := config["params"].(map[string]any)

	return &Node{id: id, query: queryStr, params: params, source: source}, nil
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Executing query node")

	renderCtx := &template.RenderContext{
		RunID:       execCtx.RunID,
		WorkflowID:  execCtx.WorkflowID,
		State:       execCtx.State,
		TriggerData: execCtx.TriggerData,
		Variables:   execCtx.Variables,
	}

	rendered, err := template.RenderWithContext(n.query, renderCtx)
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to render query template: %w", err))
	}

	params := make(map[string]any, len(n.params))

	for key, value := range n.params {
		if str, ok := value.(string); ok {
			renderedParam, err := template.RenderWithContext(str, renderCtx)
			if err != nil {
				return nil, protocol.NewFatalError(fmt.Errorf("failed to render param '%s' template: %w", key, err))
			}

			params[key] = renderedParam

			continue
		}

		params[key] = value
	}

	result, err := n.source.Query(ctx, fmt.Sprintf("%v", rendered), params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return result, nil
}
