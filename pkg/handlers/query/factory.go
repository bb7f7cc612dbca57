package query

import (
	"context"
	"errors"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
)

var ErrNoDataSource = errors.New("no data source configured for query nodes")

type Factory struct {
	source protocol.DataSource
}

// NewFactory builds the query node factory around the injected data source.
func NewFactory(source protocol.DataSource) *Factory {
	return &Factory{source: source}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.NodeHandler, error) {
	if f.source == nil {
		return nil, ErrNoDataSource
	}

	return NewNode(id, config, f.source)
}

func (f *Factory) ID() string {
	return models.NodeTypeQuery
}

func (f *Factory) Name() string {
	return "Query"
}

func (f *Factory) Description() string {
	return "Reads data through the configured data source with a templated query."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Query passed to the data source. Supports templating over run state.",
			},
			"params": map[string]any{
				"type":        "object",
				"description": "Query parameters. String values support templating.",
			},
		},
		"required": []string{"query"},
	}
}
