// Package protocol defines the interfaces and contracts for pluggable nodes,
// triggers, and external collaborators.
package protocol

import (
	"context"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/models"
)

// NodeHandler executes one node. Implementations must not mutate the
// execution context state in place: they return a delta the engine merges
// under the node's ID. Blocking work must honour ctx cancellation; the
// executor enforces the node timeout through it.
type NodeHandler interface {
	Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// NodeFactory creates handler instances and provides metadata about the node
// type. The Schema is validated against node configs at publish time, never
// at execution time.
type NodeFactory interface {
	// Create creates a handler instance for one node with its configuration.
	Create(ctx context.Context, id string, config map[string]any) (NodeHandler, error)

	// ID returns the type tag this factory serves.
	ID() string

	// Name returns the human-readable name for this node type.
	Name() string

	// Description returns a description of what this node does.
	Description() string

	// Schema returns the JSON schema for configuring this node type.
	Schema() map[string]any
}
