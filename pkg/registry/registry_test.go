package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/handlers/transform"
	"github.com/orchid-run/orchid/pkg/handlers/triggernode"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/registry"
)

func newRegistry() *registry.Registry {
	reg := registry.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.RegisterNode(triggernode.NewFactory())
	reg.RegisterNode(transform.NewFactory())

	return reg
}

func definition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     "wf-1",
		Name:   "Order Enrichment",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.NodeSpec{
			{ID: "start", Type: models.NodeTypeTrigger, Name: "start"},
			{ID: "shape", Type: models.NodeTypeTransform, Name: "shape",
				Config: map[string]any{"expression": `{{ .trigger_data }}`}},
		},
		Edges: []*models.Edge{{SourceID: "start", TargetID: "shape"}},
	}
}

func TestValidateWorkflowAcceptsValidDefinition(t *testing.T) {
	reg := newRegistry()
	validate := validator.New(validator.WithRequiredStructEnabled())

	require.NoError(t, reg.ValidateWorkflow(validate, definition()))
}

func TestValidateWorkflowRejectsUnknownNodeType(t *testing.T) {
	reg := newRegistry()
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflow := definition()
	workflow.Nodes[1].Type = "teleport"

	err := reg.ValidateWorkflow(validate, workflow)
	require.Error(t, err)
	assert.True(t, registry.IsValidationError(err))
	assert.ErrorIs(t, err, registry.ErrUnknownNodeType)
	assert.Contains(t, err.Error(), "shape")
}

func TestValidateWorkflowRejectsConfigViolatingSchema(t *testing.T) {
	reg := newRegistry()
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflow := definition()
	workflow.Nodes[1].Config = map[string]any{}

	err := reg.ValidateWorkflow(validate, workflow)
	require.Error(t, err)
	assert.True(t, registry.IsValidationError(err))
	assert.Contains(t, err.Error(), "shape")
}

func TestValidateWorkflowRejectsStructViolations(t *testing.T) {
	reg := newRegistry()
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflow := definition()
	workflow.Name = "ab"

	err := reg.ValidateWorkflow(validate, workflow)
	require.Error(t, err)
	assert.True(t, registry.IsValidationError(err))
}

func TestValidateWorkflowRejectsBrokenGraph(t *testing.T) {
	reg := newRegistry()
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflow := definition()
	workflow.Edges = append(workflow.Edges, &models.Edge{SourceID: "shape", TargetID: "ghost"})

	err := reg.ValidateWorkflow(validate, workflow)
	require.Error(t, err)
	assert.True(t, registry.IsValidationError(err))
	assert.ErrorIs(t, err, models.ErrUnknownEdgeNode)
}

func TestCreateHandler(t *testing.T) {
	reg := newRegistry()

	handler, err := reg.CreateHandler(context.Background(), models.NodeTypeTransform, "shape",
		map[string]any{"expression": "{{ .state }}"})
	require.NoError(t, err)
	assert.NotNil(t, handler)

	_, err = reg.CreateHandler(context.Background(), "teleport", "n1", nil)
	require.Error(t, err)
}

func TestCreateTriggerUnknownID(t *testing.T) {
	reg := newRegistry()

	_, err := reg.CreateTrigger(context.Background(), "carrier-pigeon", map[string]any{})
	require.Error(t, err)
}

func TestNodeTypes(t *testing.T) {
	reg := newRegistry()

	assert.ElementsMatch(t, []string{models.NodeTypeTrigger, models.NodeTypeTransform}, reg.NodeTypes())
}
