package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/orchid-run/orchid/pkg/protocol"
)

type Trigger struct {
	WorkflowID string
	NodeID     string
	Path       string
	Method     string
	Enabled    bool

	server *Server
	logger *slog.Logger
}

func NewTrigger(ctx context.Context, server *Server, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	workflowID, _ := config["workflow_id"].(string)
	nodeID, _ := config["node_id"].(string)

	path, ok := config["path"].(string)
	if !ok || path == "" {
		path = "/webhooks/" + workflowID
	}

	method, ok := config["method"].(string)
	if !ok {
		method = http.MethodPost
	}

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Path:       path,
		Method:     strings.ToUpper(method),
		Enabled:    enabled,
		server:     server,
		logger: logger.With(
			"module", "webhook_trigger",
			"workflow_id", workflowID,
			"path", path,
		),
	}

	if err := trigger.Validate(ctx); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.WorkflowID == "" {
		return errors.New("webhook trigger workflow_id is required")
	}

	if t.Path == "" {
		return errors.New("webhook trigger path is required")
	}

	if !strings.HasPrefix(t.Path, "/") {
		return errors.New("webhook trigger path must start with '/'")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Webhook trigger is disabled")

		return nil
	}

	if t.server == nil {
		return errors.New("webhook server not configured")
	}

	err := t.server.Register(t.Path, &route{
		workflowID: t.WorkflowID,
		nodeID:     t.NodeID,
		method:     t.Method,
		callback:   callback,
		logger:     t.logger,
	})
	if err != nil {
		return err
	}

	t.logger.InfoContext(ctx, "Webhook trigger started")

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping webhook trigger")

	if t.server != nil {
		t.server.Unregister(t.Path)
	}

	return nil
}
