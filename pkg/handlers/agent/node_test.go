package agent_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/handlers/agent"
	"github.com/orchid-run/orchid/pkg/models"
)

type fakeGateway struct {
	prompt string
	input  map[string]any
	result map[string]any
}

func (f *fakeGateway) Invoke(_ context.Context, prompt string, input map[string]any) (map[string]any, error) {
	f.prompt = prompt
	f.input = input

	return f.result, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateWithoutGateway(t *testing.T) {
	factory := agent.NewFactory(nil)

	_, err := factory.Create(context.Background(), "a1", map[string]any{"prompt": "p"})
	require.ErrorIs(t, err, agent.ErrNoGateway)
}

func TestExecuteRendersPrompt(t *testing.T) {
	gateway := &fakeGateway{result: map[string]any{"answer": "yes"}}

	node, err := agent.NewNode("a1", map[string]any{
		"prompt": "Summarize order {{ .state.fetch.order_id }}",
	}, gateway)
	require.NoError(t, err)

	execCtx := models.ExecutionContext{
		State: map[string]any{
			"fetch": map[string]any{"order_id": "o-3"},
		},
	}

	output, err := node.Execute(context.Background(), execCtx, discard())
	require.NoError(t, err)

	assert.Equal(t, "Summarize order o-3", gateway.prompt)
	assert.Equal(t, execCtx.State, gateway.input, "defaults to the state snapshot")
	assert.Equal(t, map[string]any{"answer": "yes"}, output)
}
