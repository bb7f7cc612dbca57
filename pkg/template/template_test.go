package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/template"
)

func renderCtx() *template.RenderContext {
	return &template.RenderContext{
		RunID:      "run-1",
		WorkflowID: "wf-1",
		State: map[string]any{
			"fetch": map[string]any{"status_code": 200.0, "route": "left"},
		},
		TriggerData: map[string]any{"order_id": "o-1"},
		Variables:   map[string]any{"region": "eu-west-1"},
	}
}

func TestRenderWithContextExposesRunData(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{"state lookup", `{{ .state.fetch.route }}`, "left"},
		{"trigger data", `{{ .trigger_data.order_id }}`, "o-1"},
		{"variables", `{{ .variables.region }}`, "eu-west-1"},
		{"vars alias", `{{ .vars.region }}`, "eu-west-1"},
		{"run metadata", `{{ .run.id }}/{{ .run.workflow_id }}`, "run-1/wf-1"},
		{"numeric coercion", `{{ .state.fetch.status_code }}`, 200.0},
		{"boolean coercion", `{{ eq .state.fetch.route "left" }}`, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := template.RenderWithContext(tc.input, renderCtx())
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRenderCoercesJSON(t *testing.T) {
	got, err := template.Render(`{"id": "{{ .id }}", "count": 3}`, map[string]any{"id": "x"})
	require.NoError(t, err)

	obj, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x", obj["id"])
	assert.Equal(t, 3.0, obj["count"])

	arr, err := template.Render(`[1, 2, 3]`, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, arr)
}

func TestRenderPlainStringPassesThrough(t *testing.T) {
	got, err := template.Render(`hello {{ .name }}`, map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestRenderMalformedJSONFails(t *testing.T) {
	_, err := template.Render(`{"unterminated": `+`{{ .id }}`+`"`, map[string]any{"id": "x"})
	require.NoError(t, err, "not brace-wrapped output stays a string")

	_, err = template.Render(`{"bad": }`, nil)
	assert.Error(t, err)
}

func TestRenderParseErrorSurfaces(t *testing.T) {
	_, err := template.Render(`{{ .unclosed`, nil)
	assert.Error(t, err)
}

func TestRenderMissingKeyRendersNoValue(t *testing.T) {
	got, err := template.Render(`{{ .missing }}`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "<no value>", got)
}
