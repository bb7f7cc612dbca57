package agent

import (
	"context"
	"errors"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
)

var ErrNoGateway = errors.New("no agent gateway configured for agent nodes")

type Factory struct {
	gateway protocol.AgentGateway
}

// NewFactory builds the agent node factory around the injected gateway.
func NewFactory(gateway protocol.AgentGateway) *Factory {
	return &Factory{gateway: gateway}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.NodeHandler, error) {
	if f.gateway == nil {
		return nil, ErrNoGateway
	}

	return NewNode(id, config, f.gateway)
}

func (f *Factory) ID() string {
	return models.NodeTypeAgent
}

func (f *Factory) Name() string {
	return "Agent"
}

func (f *Factory) Description() string {
	return "Invokes the configured agent gateway with a templated prompt."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Prompt passed to the agent gateway. Supports templating over run state.",
			},
			"input": map[string]any{
				"type":        "object",
				"description": "Structured input forwarded with the prompt. Defaults to the full state snapshot.",
			},
		},
		"required": []string{"prompt"},
	}
}
