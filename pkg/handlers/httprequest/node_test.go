package httprequest_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/handlers/httprequest"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/protocol"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateRequiresURL(t *testing.T) {
	_, err := httprequest.NewNode("n1", map[string]any{})
	require.ErrorIs(t, err, httprequest.ErrMissingURL)
	assert.True(t, protocol.IsFatal(err))
}

func TestExecuteSuccess(t *testing.T) {
	var gotIdempotencyKey, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get(httprequest.IdempotencyKeyHeader)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer server.Close()

	node, err := httprequest.NewNode("n1", map[string]any{
		"url": server.URL + "/users/{{ .state.lookup.user_id }}",
		"headers": map[string]any{
			"Authorization": "Bearer {{ .state.auth.token }}",
		},
	})
	require.NoError(t, err)

	execCtx := models.ExecutionContext{
		RunID:          "run-1",
		IdempotencyKey: "run-1:n1",
		State: map[string]any{
			"lookup": map[string]any{"user_id": "42"},
			"auth":   map[string]any{"token": "secret"},
		},
	}

	output, err := node.Execute(context.Background(), execCtx, discard())
	require.NoError(t, err)

	assert.Equal(t, "run-1:n1", gotIdempotencyKey)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, 200, output["status_code"])

	body, ok := output["body"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 7, body["id"])
}

func TestExecuteServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	node, err := httprequest.NewNode("n1", map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), models.ExecutionContext{}, discard())
	require.Error(t, err)
	assert.False(t, protocol.IsFatal(err))
}

func TestExecuteClientErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	node, err := httprequest.NewNode("n1", map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), models.ExecutionContext{}, discard())
	require.Error(t, err)
	assert.True(t, protocol.IsFatal(err))
}

func TestExecutePostWithTemplatedBody(t *testing.T) {
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	node, err := httprequest.NewNode("n1", map[string]any{
		"url":    server.URL,
		"method": "post",
		"body":   `{"name": "{{ .trigger_data.name }}"}`,
	})
	require.NoError(t, err)

	execCtx := models.ExecutionContext{
		TriggerData: map[string]any{"name": "ada"},
	}

	output, err := node.Execute(context.Background(), execCtx, discard())
	require.NoError(t, err)
	assert.Equal(t, 201, output["status_code"])
	assert.JSONEq(t, `{"name": "ada"}`, string(gotBody))
}
