package protocol

import (
	"context"
	"log/slog"
)

// TriggerFire is the stimulus a trigger hands to the trigger manager.
// IdempotencyKey, when present, deduplicates retried deliveries of the same
// external event.
type TriggerFire struct {
	WorkflowID     string
	Source         string
	Data           map[string]any
	IdempotencyKey string
}

// TriggerCallback converts a stimulus into a new workflow run.
type TriggerCallback func(ctx context.Context, fire TriggerFire) error

// Trigger is an external stimulus source: schedule, webhook, queue message,
// or manual invocation.
type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate(ctx context.Context) error
}

// TriggerFactory creates trigger instances from configuration.
type TriggerFactory interface {
	Create(ctx context.Context, config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
}
