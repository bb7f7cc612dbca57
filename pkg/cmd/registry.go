// Package cmd provides the shared wiring used by the orchid binaries.
package cmd

import (
	"log/slog"

	"github.com/orchid-run/orchid/pkg/handlers/agent"
	"github.com/orchid-run/orchid/pkg/handlers/code"
	"github.com/orchid-run/orchid/pkg/handlers/httprequest"
	"github.com/orchid-run/orchid/pkg/handlers/lognode"
	"github.com/orchid-run/orchid/pkg/handlers/query"
	"github.com/orchid-run/orchid/pkg/handlers/subworkflow"
	"github.com/orchid-run/orchid/pkg/handlers/transform"
	"github.com/orchid-run/orchid/pkg/handlers/triggernode"
	"github.com/orchid-run/orchid/pkg/protocol"
	"github.com/orchid-run/orchid/pkg/registry"
	"github.com/orchid-run/orchid/pkg/triggers/kafka"
	"github.com/orchid-run/orchid/pkg/triggers/queue"
	"github.com/orchid-run/orchid/pkg/triggers/schedule"
	"github.com/orchid-run/orchid/pkg/triggers/webhook"
)

// Collaborators are the external systems node handlers call into. Nil
// entries leave the corresponding node type registered but failing at
// handler creation, which surfaces as a fatal node error.
type Collaborators struct {
	DataSource   protocol.DataSource
	AgentGateway protocol.AgentGateway
}

// NewRegistry builds a registry with every built-in node type except
// subworkflow, which needs the engine and is registered by the worker after
// engine construction. Plugins are loaded when pluginsPath is non-empty.
func NewRegistry(logger *slog.Logger, pluginsPath string, collab Collaborators) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterNode(triggernode.NewFactory())
	reg.RegisterNode(transform.NewFactory())
	reg.RegisterNode(lognode.NewFactory())
	reg.RegisterNode(httprequest.NewFactory())
	reg.RegisterNode(code.NewFactory())
	reg.RegisterNode(query.NewFactory(collab.DataSource))
	reg.RegisterNode(agent.NewFactory(collab.AgentGateway))

	if pluginsPath != "" {
		registerPlugins(logger, reg, pluginsPath)
	}

	return reg
}

// RegisterSubworkflow registers the subworkflow node type against a live
// engine.
func RegisterSubworkflow(reg *registry.Registry, runner protocol.SubworkflowRunner) {
	reg.RegisterNode(subworkflow.NewFactory(runner))
}

// RegisterTriggers registers the built-in trigger sources. The webhook
// factory needs the shared server owned by the trigger process.
func RegisterTriggers(reg *registry.Registry, server *webhook.Server) {
	reg.RegisterTrigger(schedule.NewFactory())
	reg.RegisterTrigger(webhook.NewFactory(server))
	reg.RegisterTrigger(queue.NewFactory())
	reg.RegisterTrigger(kafka.NewFactory())
}

func registerPlugins(logger *slog.Logger, reg *registry.Registry, pluginsPath string) {
	nodePlugins, err := reg.LoadNodePlugins(pluginsPath)
	if err != nil {
		logger.Error("Failed to load node plugins", "path", pluginsPath, "error", err)
	}

	for _, plugin := range nodePlugins {
		reg.RegisterNode(plugin)
	}

	triggerPlugins, err := reg.LoadTriggerPlugins(pluginsPath)
	if err != nil {
		logger.Error("Failed to load trigger plugins", "path", pluginsPath, "error", err)
	}

	for _, plugin := range triggerPlugins {
		reg.RegisterTrigger(plugin)
	}
}
