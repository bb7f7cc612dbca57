// Package queue provides the Redis Streams trigger. Each trigger node
// consumes one stream through a consumer group, so multiple trigger
// processes share the stream without double-firing, and the stream entry ID
// doubles as the delivery's idempotency key.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orchid-run/orchid/pkg/protocol"
)

const (
	Source = "queue"

	defaultGroup    = "orchid-triggers"
	defaultConsumer = "orchid-trigger-1"

	readBlock = time.Second
	readCount = 10
	pingWait  = 5 * time.Second
)

type Trigger struct {
	WorkflowID string
	NodeID     string
	Stream     string
	Group      string
	Consumer   string
	Enabled    bool

	client   *redis.Client
	callback protocol.TriggerCallback
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewTrigger(ctx context.Context, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	workflowID, _ := config["workflow_id"].(string)
	nodeID, _ := config["node_id"].(string)
	stream, _ := config["stream"].(string)

	group, ok := config["group"].(string)
	if !ok || group == "" {
		group = defaultGroup
	}

	consumer, ok := config["consumer"].(string)
	if !ok || consumer == "" {
		consumer = defaultConsumer
	}

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Stream:     stream,
		Group:      group,
		Consumer:   consumer,
		Enabled:    enabled,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"workflow_id", workflowID,
			"stream", stream,
			"group", group,
		),
	}

	if err := trigger.Validate(ctx); err != nil {
		return nil, err
	}

	client, err := newClient(ctx, config)
	if err != nil {
		return nil, err
	}

	trigger.client = client

	return trigger, nil
}

func newClient(ctx context.Context, config map[string]any) (*redis.Client, error) {
	opts := &redis.Options{
		Addr: "localhost:6379",
	}

	if connection, ok := config["connection"].(map[string]any); ok {
		if addr, ok := connection["addr"].(string); ok && addr != "" {
			opts.Addr = addr
		}

		if password, ok := connection["password"].(string); ok {
			opts.Password = password
		}

		if db, ok := connection["db"].(float64); ok {
			opts.DB = int(db)
		} else if db, ok := connection["db"].(int); ok {
			opts.DB = db
		}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingWait)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	return client, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.WorkflowID == "" {
		return errors.New("queue trigger workflow_id is required")
	}

	if t.Stream == "" {
		return errors.New("queue trigger stream is required")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Queue trigger is disabled")

		return nil
	}

	t.callback = callback

	// MkStream lets the group exist before the first producer writes.
	err := t.client.XGroupCreateMkStream(ctx, t.Stream, t.Group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("creating consumer group %s on stream %s: %w", t.Group, t.Stream, err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	t.logger.InfoContext(ctx, "Queue trigger started")

	return nil
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.Group,
			Consumer: t.Consumer,
			Streams:  []string{t.Stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}

			t.logger.ErrorContext(ctx, "Failed to read from stream", "error", err)
			time.Sleep(time.Second)

			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				t.handleMessage(ctx, message)
			}
		}
	}
}

func (t *Trigger) handleMessage(ctx context.Context, message redis.XMessage) {
	fire := protocol.TriggerFire{
		WorkflowID: t.WorkflowID,
		Source:     Source,
		Data:       messageData(message, t.Stream, t.NodeID),
		// Stream entry IDs are unique per stream; redelivered entries
		// keep their ID and so collapse into the same run.
		IdempotencyKey: t.Stream + ":" + message.ID,
	}

	if err := t.callback(ctx, fire); err != nil {
		t.logger.ErrorContext(ctx, "Queue trigger callback failed",
			"message_id", message.ID, "error", err)

		// Left unacked: the entry stays pending and is redelivered.
		return
	}

	if err := t.client.XAck(ctx, t.Stream, t.Group, message.ID).Err(); err != nil {
		t.logger.ErrorContext(ctx, "Failed to ack stream entry",
			"message_id", message.ID, "error", err)
	}
}

func messageData(message redis.XMessage, stream, nodeID string) map[string]any {
	data := map[string]any{
		"stream":     stream,
		"message_id": message.ID,
		"node_id":    nodeID,
	}

	// A "payload" field carrying JSON is unwrapped; everything else is
	// passed through as-is.
	if payload, ok := message.Values["payload"].(string); ok {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(payload), &parsed); err == nil {
			data["payload"] = parsed
		} else {
			data["payload"] = payload
		}
	} else {
		fields := make(map[string]any, len(message.Values))
		for k, v := range message.Values {
			fields[k] = v
		}

		data["payload"] = fields
	}

	return data
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping queue trigger")

	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()

	if t.client != nil {
		return t.client.Close()
	}

	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
