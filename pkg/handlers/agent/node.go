// Package agent provides the agent node type. It delegates to an injected
// gateway; concrete LLM provider clients are external collaborators.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/template"
)

type Node struct {
	id      string
	prompt  string
	input   map[string]any
	gateway protocol.AgentGateway
}

func NewNode(id string, config map[string]any, gateway protocol.AgentGateway) (*Node, error) {
	prompt, _ := config["prompt"].(string)
	if prompt == "" {
		return nil, protocol.Fatalf("agent node %s: missing 'prompt' in configuration", id)
	}

	input, _ := config["input"].(map[string]any)

	return &Node{id: id, prompt: prompt, input: input, gateway: gateway}, nil
}

func (n *Node) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Executing agent node")

	rendered, err := template.RenderWithContext(n.prompt, &template.RenderContext{
		RunID:       execCtx.RunID,
		WorkflowID:  execCtx.WorkflowID,
		State:       execCtx.State,
		TriggerData: execCtx.TriggerData,
		Variables:   execCtx.Variables,
	})
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to render prompt template: %w", err))
	}

	input := n.input
	if input == nil {
		input = execCtx.State
	}

	result, err := n.gateway.Invoke(ctx, fmt.Sprintf("%v", rendered), input)
	if err != nil {
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}

	return result, nil
}
