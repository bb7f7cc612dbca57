package transform

import (
	"context"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.NodeHandler, error) {
	return NewNode(id, config)
}

func (f *Factory) ID() string {
	return models.NodeTypeTransform
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Evaluates a template expression over run state and stores the result."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Template expression evaluated against run state. JSON output becomes structured data.",
				"examples": []string{
					`{{ .state.fetch_user.name }}`,
					`{"full_name": "{{ .state.fetch_user.first }} {{ .state.fetch_user.last }}"}`,
					`{{ len .state.fetch_orders.items }}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}
