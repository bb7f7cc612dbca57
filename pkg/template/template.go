// Package template provides templating for dynamic node configuration and
// edge guard expressions.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// RenderContext carries the run-scoped data exposed to templates.
type RenderContext struct {
	RunID       string
	WorkflowID  string
	State       map[string]any
	TriggerData map[string]any
	Variables   map[string]any
}

// RenderWithContext renders the input against the standard template data
// layout: .state, .trigger_data, .variables, .vars, .env and .run.
func RenderWithContext(input string, renderCtx *RenderContext) (any, error) {
	data := map[string]any{
		"state":        renderCtx.State,
		"trigger_data": renderCtx.TriggerData,
		"variables":    renderCtx.Variables,
		"vars":         renderCtx.Variables,
		"env":          envVars(),
		"run": map[string]any{
			"id":          renderCtx.RunID,
			"workflow_id": renderCtx.WorkflowID,
		},
	}

	return Render(input, data)
}

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)
		if _, err := rand.Read(num); err != nil {
			return 0
		}

		return int(num[0]) % max
	},
}

// Render executes the template over the given data and coerces the rendered
// string: JSON objects and arrays are unmarshalled, then numbers, then
// booleans, and finally the plain string is returned.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.New("render").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return coerce(templateStr, strings.TrimSpace(buf.String()))
}

func coerce(templateStr, result string) (any, error) {
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func envVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			envMap[key] = value
		}
	}

	return envMap
}
