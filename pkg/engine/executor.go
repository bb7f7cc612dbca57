package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orchid-run/orchid/pkg/models"
	"github.com/orchid-run/orchid/pkg/registry"
)

// executor runs a single node attempt: handler resolution, timeout
// enforcement, error classification. The execution context is built by the
// scheduler before dispatch so the handler only ever sees a state snapshot.
type executor struct {
	registry       *registry.Registry
	defaultTimeout time.Duration
	logger         *slog.Logger
}

type executeResult struct {
	output map[string]any
	err    error
}

// execute dispatches one attempt of a node. The handler runs in its own
// goroutine so a handler that ignores context cancellation still cannot hold
// the scheduler past the node's timeout; the abandoned goroutine keys any
// side effects by the idempotency token.
func (x *executor) execute(ctx context.Context, execCtx models.ExecutionContext, node *models.NodeSpec) (map[string]any, *NodeError) {
	handler, err := x.registry.CreateHandler(ctx, node.Type, node.ID, node.Config)
	if err != nil {
		return nil, &NodeError{
			NodeID: node.ID,
			Kind:   ErrorKindFatal,
			Err:    fmt.Errorf("creating handler: %w", err),
		}
	}

	timeout := node.EffectiveTimeout(x.defaultTimeout)

	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := x.logger.With(
		slog.String("run_id", execCtx.RunID),
		slog.String("node_id", node.ID),
		slog.String("node_type", node.Type),
		slog.Int("attempt", execCtx.Attempt),
	)

	done := make(chan executeResult, 1)

	go func() {
		output, execErr := handler.Execute(nodeCtx, execCtx, logger)
		done <- executeResult{output: output, err: execErr}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			return nil, classify(node.ID, result.err)
		}

		if result.output == nil {
			result.output = map[string]any{}
		}

		return result.output, nil
	case <-nodeCtx.Done():
		if ctx.Err() != nil {
			// Worker shutdown rather than node timeout.
			return nil, classify(node.ID, ctx.Err())
		}

		return nil, NewTimeoutError(node.ID, timeout)
	}
}
