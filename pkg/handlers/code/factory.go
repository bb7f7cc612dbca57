package code

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
	return models.NodeTypeCode
}

func (f *Factory) Name() string {
	return "Code"
}

func (f *Factory) Description() string {
	return "Runs an embedded Go snippet against run state through the yaegi interpreter."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Go source declaring Handle(input map[string]any) (map[string]any, error).",
				"examples": []string{
					"func Handle(input map[string]any) (map[string]any, error) {\n\treturn map[string]any{\"doubled\": input[\"state\"]}, nil\n}",
				},
			},
		},
		"required":             []string{"source"},
		"additionalProperties": false,
	}
}
