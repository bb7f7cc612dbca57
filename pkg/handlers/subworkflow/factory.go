package subworkflow

import (
	"context"
	"errors"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
)

var ErrNoRunner = errors.New("no subworkflow runner configured")

type Factory struct {
	runner protocol.SubworkflowRunner
}

// NewFactory builds the subworkflow node factory. The runner is the engine
// itself, injected at registry construction.
func NewFactory(runner protocol.SubworkflowRunner) *Factory {
	return &Factory{runner: runner}
}

func (f *Factory) Create(_ context.Context, id string, config map[string]any) (protocol.NodeHandler, error) {
	if f.runner == nil {
		return nil, ErrNoRunner
	}

	return NewNode(id, config, f.runner)
}

func (f *Factory) ID() string {
	return models.NodeTypeSubworkflow
}

func (f *Factory) Name() string {
	return "Subworkflow"
}

func (f *Factory) Description() string {
	return "Runs another published workflow as a child run and returns its final state."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workflow_id": map[string]any{
				"type":        "string",
				"description": "ID of the published workflow to run.",
			},
			"input": map[string]any{
				"type":        "object",
				"description": "Trigger data for the child run. String values support templating.",
			},
		},
		"required":             []string{"workflow_id"},
		"additionalProperties": false,
	}
}
