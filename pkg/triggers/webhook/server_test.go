package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registeredServer(t *testing.T, callback protocol.TriggerCallback) *Server {
	t.Helper()

	server := NewServer(":0", nil, discardLogger())
	require.NoError(t, server.Register("/hooks/orders", &route{
		workflowID: "wf-1",
		nodeID:     "start",
		method:     http.MethodPost,
		callback:   callback,
		logger:     discardLogger(),
	}))

	return server
}

func TestHandleFiresCallbackWithRequestData(t *testing.T) {
	fired := make(chan protocol.TriggerFire, 1)

	server := registeredServer(t, func(_ context.Context, fire protocol.TriggerFire) error {
		fired <- fire

		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/orders?source=erp",
		strings.NewReader(`{"order_id": "o-1"}`))
	req.Header.Set(IdempotencyKeyHeader, "delivery-7")
	rec := httptest.NewRecorder()

	server.handle(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "delivery-7")

	select {
	case fire := <-fired:
		assert.Equal(t, "wf-1", fire.WorkflowID)
		assert.Equal(t, Source, fire.Source)
		assert.Equal(t, "delivery-7", fire.IdempotencyKey)
		assert.Equal(t, map[string]any{"order_id": "o-1"}, fire.Data["body"])
		assert.Equal(t, http.MethodPost, fire.Data["method"])

		query, ok := fire.Data["query"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "erp", query["source"])
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestHandleGeneratesKeyWhenHeaderMissing(t *testing.T) {
	fired := make(chan protocol.TriggerFire, 1)

	server := registeredServer(t, func(_ context.Context, fire protocol.TriggerFire) error {
		fired <- fire

		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/orders", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	server.handle(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case fire := <-fired:
		assert.NotEmpty(t, fire.IdempotencyKey)
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestHandleRejectsUnknownPathAndWrongMethod(t *testing.T) {
	server := registeredServer(t, func(context.Context, protocol.TriggerFire) error {
		t.Fatal("callback must not fire")

		return nil
	})

	rec := httptest.NewRecorder()
	server.handle(rec, httptest.NewRequest(http.MethodPost, "/hooks/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	server.handle(rec, httptest.NewRequest(http.MethodGet, "/hooks/orders", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleParsesNonJSONBodyAsString(t *testing.T) {
	fired := make(chan protocol.TriggerFire, 1)

	server := registeredServer(t, func(_ context.Context, fire protocol.TriggerFire) error {
		fired <- fire

		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/hooks/orders", strings.NewReader("plain text"))
	rec := httptest.NewRecorder()

	server.handle(rec, req)

	select {
	case fire := <-fired:
		assert.Equal(t, "plain text", fire.Data["body"])
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestRegisterRejectsDuplicatePath(t *testing.T) {
	server := registeredServer(t, nil)

	err := server.Register("/hooks/orders", &route{workflowID: "wf-2"})
	assert.Error(t, err)
	assert.Equal(t, 1, server.RouteCount())

	server.Unregister("/hooks/orders")
	assert.Equal(t, 0, server.RouteCount())
}

func TestTriggerValidatesPath(t *testing.T) {
	ctx := context.Background()
	server := NewServer(":0", nil, discardLogger())

	_, err := NewTrigger(ctx, server, map[string]any{
		"workflow_id": "wf-1", "path": "no-slash",
	}, discardLogger())
	assert.Error(t, err)

	_, err = NewTrigger(ctx, server, map[string]any{"path": "/ok"}, discardLogger())
	assert.Error(t, err, "workflow_id is required")

	trigger, err := NewTrigger(ctx, server, map[string]any{
		"workflow_id": "wf-1", "node_id": "start",
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "/webhooks/wf-1", trigger.Path)
	assert.Equal(t, http.MethodPost, trigger.Method)
}

func TestTriggerRegistersAndUnregistersRoute(t *testing.T) {
	ctx := context.Background()
	server := NewServer(":0", nil, discardLogger())

	trigger, err := NewTrigger(ctx, server, map[string]any{
		"workflow_id": "wf-1", "path": "/hooks/a",
	}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, trigger.Start(ctx, func(context.Context, protocol.TriggerFire) error {
		return nil
	}))
	assert.Equal(t, 1, server.RouteCount())

	require.NoError(t, trigger.Stop(ctx))
	assert.Equal(t, 0, server.RouteCount())
}
