package lognode_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/handlers/lognode"
	"github.com/orchid-run/orchid/pkg/models"
)

func TestExecuteRendersTemplatedMessage(t *testing.T) {
	node := lognode.NewNode("log-1", map[string]any{
		"message": "processing order {{ .trigger_data.order_id }} for run {{ .run.id }}",
	})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	execCtx := models.ExecutionContext{
		RunID:       "run-1",
		TriggerData: map[string]any{"order_id": "ord-42"},
	}

	output, err := node.Execute(context.Background(), execCtx, logger)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"message": "processing order ord-42 for run run-1"}, output)
	assert.Contains(t, buf.String(), "processing order ord-42 for run run-1")
}

func TestExecuteLevelSelection(t *testing.T) {
	cases := []struct {
		level string
		want  string
	}{
		{level: "debug", want: "level=DEBUG"},
		{level: "warn", want: "level=WARN"},
		{level: "error", want: "level=ERROR"},
		{level: "", want: "level=INFO"},
		{level: "shout", want: "level=INFO"},
	}

	for _, tc := range cases {
		t.Run("level "+tc.level, func(t *testing.T) {
			node := lognode.NewNode("log-1", map[string]any{
				"message": "checkpoint reached",
				"level":   tc.level,
			})

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			_, err := node.Execute(context.Background(), models.ExecutionContext{}, logger)
			require.NoError(t, err)
			assert.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestExecuteBadTemplateFails(t *testing.T) {
	node := lognode.NewNode("log-1", map[string]any{
		"message": "{{ .state.missing",
	})

	_, err := node.Execute(context.Background(), models.ExecutionContext{}, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.Error(t, err)
}

func TestExecuteEmptyMessage(t *testing.T) {
	node := lognode.NewNode("log-1", map[string]any{})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	output, err := node.Execute(context.Background(), models.ExecutionContext{}, logger)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"message": ""}, output)
}
