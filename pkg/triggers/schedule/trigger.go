// Package schedule provides the cron-based trigger. Each firing slot
// produces a deterministic idempotency key so a restarted trigger process
// cannot double-start the same slot's run.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orchid-run/orchid/pkg/protocol"
)

const Source = "schedule"

type Trigger struct {
	WorkflowID string
	NodeID     string
	CronExpr   string
	Timezone   string

	// Overlap allows a slot to fire while the previous slot's job is
	// still running. Off by default: slots are skipped instead.
	Overlap bool
	Enabled bool

	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewTrigger(ctx context.Context, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	workflowID, _ := config["workflow_id"].(string)
	nodeID, _ := config["node_id"].(string)
	cronExpr, _ := config["cron"].(string)
	timezone, _ := config["timezone"].(string)
	overlap, _ := config["overlap"].(bool)

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		WorkflowID: workflowID,
		NodeID:     nodeID,
		CronExpr:   cronExpr,
		Timezone:   timezone,
		Overlap:    overlap,
		Enabled:    enabled,
		logger: logger.With(
			"module", "schedule_trigger",
			"workflow_id", workflowID,
			"node_id", nodeID,
			"cron", cronExpr,
		),
	}

	if err := trigger.Validate(ctx); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.WorkflowID == "" {
		return errors.New("schedule trigger workflow_id is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
	}

	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", t.Timezone, err)
		}
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Schedule trigger is disabled")

		return nil
	}

	t.callback = callback

	opts := []cron.Option{}

	if t.Timezone != "" {
		loc, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return fmt.Errorf("loading timezone %q: %w", t.Timezone, err)
		}

		opts = append(opts, cron.WithLocation(loc))
	}

	if !t.Overlap {
		opts = append(opts, cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	}

	t.cron = cron.New(opts...)

	if _, err := t.cron.AddFunc(t.CronExpr, func() { t.fire(ctx) }); err != nil {
		return fmt.Errorf("adding cron entry for workflow %s: %w", t.WorkflowID, err)
	}

	t.cron.Start()
	t.logger.InfoContext(ctx, "Schedule trigger started")

	return nil
}

func (t *Trigger) fire(ctx context.Context) {
	firedAt := time.Now().UTC()

	err := t.callback(ctx, protocol.TriggerFire{
		WorkflowID: t.WorkflowID,
		Source:     Source,
		Data: map[string]any{
			"fired_at": firedAt.Format(time.RFC3339),
			"cron":     t.CronExpr,
			"node_id":  t.NodeID,
		},
		IdempotencyKey: SlotKey(t.WorkflowID, t.NodeID, firedAt),
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "Schedule trigger callback failed", "error", err)
	}
}

func (t *Trigger) Stop(ctx context.Context) error {
	if t.cron == nil {
		return nil
	}

	t.logger.InfoContext(ctx, "Stopping schedule trigger")

	// Stop returns after running jobs finish.
	<-t.cron.Stop().Done()

	return nil
}

// SlotKey identifies one firing slot of one trigger node. Standard cron
// expressions have minute granularity, so truncating to the minute makes
// retried or duplicated firings of the same slot collide.
func SlotKey(workflowID, nodeID string, firedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", workflowID, nodeID, firedAt.Truncate(time.Minute).Unix())
}
