package triggernode

import (
	"context"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, id string, _ map[string]any) (protocol.NodeHandler, error) {
	return NewNode(id), nil
}

func (f *Factory) ID() string {
	return models.NodeTypeTrigger
}

func (f *Factory) Name() string {
	return "Trigger"
}

func (f *Factory) Description() string {
	return "Entry node that exposes the payload of the stimulus that started the run."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source": map[string]any{
				"type":        "string",
				"enum":        []string{"schedule", "webhook", "queue", "kafka"},
				"description": "External event source bound to this entry node. Omit for manual-only workflows.",
			},
		},
	}
}
