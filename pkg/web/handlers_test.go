package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchid-run/orchid/pkg/approval"
	"github.com/orchid-run/orchid/pkg/eventbus"
	"github.com/orchid-run/orchid/pkg/events"
	"github.com/orchid-run/orchid/pkg/handlers/transform"
	"github.com/orchid-run/orchid/pkg/handlers/triggernode"
	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/registry"
	"github.com/orchid-run/orchid/pkg/store/file"
	"github.com/orchid-run/orchid/pkg/web"
)

type capturingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *capturingBus) published() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]eventbus.Event(nil), b.events...)
}

type fixture struct {
	app   *fiber.App
	store *file.Store
	gate  *approval.Gate
	bus   *capturingBus
}

func setup(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := file.NewStore(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterNode(triggernode.NewFactory())
	reg.RegisterNode(transform.NewFactory())

	bus := &capturingBus{}
	gate := approval.NewGate(logger, st, bus, time.Hour)

	handlers := web.NewAPIHandlers(logger, st, reg, gate, bus)

	app := fiber.New()
	handlers.Register(app)

	return &fixture{app: app, store: st, gate: gate, bus: bus}
}

func (f *fixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func validDefinition() web.PublishWorkflowRequest {
	return web.PublishWorkflowRequest{
		Name: "Order Enrichment",
		Nodes: []*models.NodeSpec{
			{ID: "start", Type: models.NodeTypeTrigger, Name: "start"},
			{ID: "shape", Type: models.NodeTypeTransform, Name: "shape",
				Config: map[string]any{"expression": `{{ .trigger_data }}`}},
		},
		Edges: []*models.Edge{{SourceID: "start", TargetID: "shape"}},
	}
}

func TestPublishWorkflow(t *testing.T) {
	f := setup(t)

	resp := f.request(t, http.MethodPost, "/workflows/", validDefinition())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	workflow := decode[models.WorkflowDefinition](t, resp)
	assert.NotEmpty(t, workflow.ID)
	assert.Equal(t, models.WorkflowStatusPublished, workflow.Status)
	require.NotNil(t, workflow.PublishedAt)

	stored, err := f.store.Workflows().GetByID(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Order Enrichment", stored.Name)
}

func TestPublishWorkflowRejectsBadDefinitions(t *testing.T) {
	f := setup(t)

	// Unregistered node type.
	bad := validDefinition()
	bad.Nodes[1].Type = "no-such-type"
	resp := f.request(t, http.MethodPost, "/workflows/", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Edge referencing an undeclared node.
	dangling := validDefinition()
	dangling.Edges = []*models.Edge{{SourceID: "start", TargetID: "ghost"}}
	resp = f.request(t, http.MethodPost, "/workflows/", dangling)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing required config caught by the factory schema.
	noExpr := validDefinition()
	noExpr.Nodes[1].Config = map[string]any{}
	resp = f.request(t, http.MethodPost, "/workflows/", noExpr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetWorkflow(t *testing.T) {
	f := setup(t)

	created := decode[models.WorkflowDefinition](t,
		f.request(t, http.MethodPost, "/workflows/", validDefinition()))

	resp := f.request(t, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRunPublishesManualTrigger(t *testing.T) {
	f := setup(t)

	created := decode[models.WorkflowDefinition](t,
		f.request(t, http.MethodPost, "/workflows/", validDefinition()))

	resp := f.request(t, http.MethodPost, "/workflows/"+created.ID+"/runs", web.StartRunRequest{
		TriggerData:    map[string]any{"order_id": "o-1"},
		IdempotencyKey: "req-1",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	first := decode[web.StartRunResponse](t, resp)
	assert.NotEmpty(t, first.RunID)

	published := f.bus.published()
	require.Len(t, published, 1)

	event, ok := published[0].(events.RunTriggered)
	require.True(t, ok)
	assert.Equal(t, "manual", event.Source)
	assert.Equal(t, first.RunID, event.RunID)
	assert.Equal(t, map[string]any{"order_id": "o-1"}, event.TriggerData)

	// Same idempotency key maps to the same run ID.
	resp = f.request(t, http.MethodPost, "/workflows/"+created.ID+"/runs", web.StartRunRequest{
		IdempotencyKey: "req-1",
	})
	second := decode[web.StartRunResponse](t, resp)
	assert.Equal(t, first.RunID, second.RunID)
}

func TestStartRunRejectsUnknownWorkflow(t *testing.T) {
	f := setup(t)

	resp := f.request(t, http.MethodPost, "/workflows/missing/runs", web.StartRunRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRunReturnsTrace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	definition := &models.WorkflowDefinition{
		ID:     "wf-1",
		Name:   "workflow",
		Status: models.WorkflowStatusPublished,
		Nodes:  []*models.NodeSpec{{ID: "a", Type: models.NodeTypeTrigger, Name: "a"}},
	}
	run := models.NewRun("run-1", definition, map[string]any{"k": "v"})
	run.AppendStep(models.StepRecord{NodeID: "a", Attempt: 1, Outcome: models.StepOutcomeSuccess})
	require.NoError(t, f.store.Runs().Create(ctx, run))

	resp := f.request(t, http.MethodGet, "/runs/run-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[web.RunResponse](t, resp)
	assert.Equal(t, "wf-1", body.WorkflowID)
	require.Len(t, body.Trace, 1)
	assert.Equal(t, "a", body.Trace[0].NodeID)

	resp = f.request(t, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRunSetsFlag(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	definition := &models.WorkflowDefinition{
		ID:     "wf-1",
		Name:   "workflow",
		Status: models.WorkflowStatusPublished,
		Nodes:  []*models.NodeSpec{{ID: "a", Type: models.NodeTypeTrigger, Name: "a"}},
	}
	require.NoError(t, f.store.Runs().Create(ctx, models.NewRun("run-1", definition, nil)))

	resp := f.request(t, http.MethodPost, "/runs/run-1/cancel?actor=alice", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	run, err := f.store.Runs().Get(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.CancelRequested)
}

func TestApprovalEndpoints(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	definition := &models.WorkflowDefinition{
		ID:     "wf-1",
		Name:   "workflow",
		Status: models.WorkflowStatusPublished,
		Nodes:  []*models.NodeSpec{{ID: "gate", Type: models.NodeTypeTransform, Name: "gate"}},
	}
	run := models.NewRun("run-1", definition, nil)
	require.NoError(t, f.store.Runs().Create(ctx, run))

	request, err := f.gate.Request(ctx, run, definition.Nodes[0], map[string]any{"amount": 100})
	require.NoError(t, err)

	listResp := f.request(t, http.MethodGet, "/approvals/", nil)
	assert.Equal(t, http.StatusOK, listResp.StatusCode)

	list := decode[map[string]any](t, listResp)
	assert.EqualValues(t, 1, list["total_count"])

	resolveResp := f.request(t, http.MethodPost, "/approvals/"+request.ID+"/resolve",
		web.ResolveApprovalRequest{Decision: "approved", Actor: "alice"})
	assert.Equal(t, http.StatusOK, resolveResp.StatusCode)

	resolved := decode[models.ApprovalRequest](t, resolveResp)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
	assert.Equal(t, "alice", resolved.ResolvedBy)

	// Second resolution conflicts.
	again := f.request(t, http.MethodPost, "/approvals/"+request.ID+"/resolve",
		web.ResolveApprovalRequest{Decision: "rejected", Actor: "bob"})
	assert.Equal(t, http.StatusConflict, again.StatusCode)

	// Invalid decision is rejected before reaching the gate.
	invalid := f.request(t, http.MethodPost, "/approvals/"+request.ID+"/resolve",
		web.ResolveApprovalRequest{Decision: "maybe", Actor: "bob"})
	assert.Equal(t, http.StatusBadRequest, invalid.StatusCode)
}
