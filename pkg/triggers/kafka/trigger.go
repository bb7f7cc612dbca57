// Package kafka provides the Kafka trigger: a sarama consumer group that
// turns each consumed record into a workflow run. The record's coordinates
// (topic, partition, offset) form the idempotency key, so a rebalance or
// redelivery cannot start the same run twice.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/orchid-run/orchid/pkg/protocol"
)

const (
	Source = "kafka"

	defaultGroupPrefix = "orchid-trigger-"
)

type Trigger struct {
	WorkflowID    string
	NodeID        string
	Brokers       []string
	Topic         string
	ConsumerGroup string
	Enabled       bool

	group    sarama.ConsumerGroup
	callback protocol.TriggerCallback
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewTrigger(ctx context.Context, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	workflowID, _ := config["workflow_id"].(string)
	nodeID, _ := config["node_id"].(string)
	topic, _ := config["topic"].(string)

	var brokers []string
	if brokersVal, ok := config["brokers"].(string); ok && brokersVal != "" {
		brokers = strings.Split(brokersVal, ",")
	}

	consumerGroup, ok := config["consumer_group"].(string)
	if !ok || consumerGroup == "" {
		consumerGroup = defaultGroupPrefix + workflowID
	}

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		WorkflowID:    workflowID,
		NodeID:        nodeID,
		Brokers:       brokers,
		Topic:         topic,
		ConsumerGroup: consumerGroup,
		Enabled:       enabled,
		logger: logger.With(
			"module", "kafka_trigger",
			"workflow_id", workflowID,
			"topic", topic,
			"consumer_group", consumerGroup,
		),
	}

	if err := trigger.Validate(ctx); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.WorkflowID == "" {
		return errors.New("kafka trigger workflow_id is required")
	}

	if t.Topic == "" {
		return errors.New("kafka trigger topic is required")
	}

	if len(t.Brokers) == 0 {
		return errors.New("kafka trigger brokers are required")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Kafka trigger is disabled")

		return nil
	}

	t.callback = callback

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(t.Brokers, t.ConsumerGroup, config)
	if err != nil {
		return fmt.Errorf("creating consumer group %s: %w", t.ConsumerGroup, err)
	}

	t.group = group

	consumeCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(2)

	go func() {
		defer t.wg.Done()

		for err := range group.Errors() {
			t.logger.Error("Kafka consumer group error", "error", err)
		}
	}()

	go func() {
		defer t.wg.Done()

		handler := &consumerGroupHandler{trigger: t}

		for {
			// Consume returns on rebalance; loop to rejoin.
			if err := group.Consume(consumeCtx, []string{t.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}

				t.logger.Error("Kafka consume failed", "error", err)
			}

			if consumeCtx.Err() != nil {
				return
			}
		}
	}()

	t.logger.InfoContext(ctx, "Kafka trigger started")

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping kafka trigger")

	if t.cancel != nil {
		t.cancel()
	}

	var err error
	if t.group != nil {
		err = t.group.Close()
	}

	t.wg.Wait()

	return err
}

type consumerGroupHandler struct {
	trigger *Trigger
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	t := h.trigger

	for message := range claim.Messages() {
		fire := protocol.TriggerFire{
			WorkflowID:     t.WorkflowID,
			Source:         Source,
			Data:           recordData(message, t.NodeID),
			IdempotencyKey: fmt.Sprintf("%s:%d:%d", message.Topic, message.Partition, message.Offset),
		}

		if err := t.callback(session.Context(), fire); err != nil {
			t.logger.Error("Kafka trigger callback failed",
				"topic", message.Topic,
				"partition", message.Partition,
				"offset", message.Offset,
				"error", err)

			// Not marked: the record is redelivered after a rebalance.
			continue
		}

		session.MarkMessage(message, "")
	}

	return nil
}

func recordData(message *sarama.ConsumerMessage, nodeID string) map[string]any {
	var payload any
	if err := json.Unmarshal(message.Value, &payload); err != nil {
		payload = string(message.Value)
	}

	headers := make(map[string]any, len(message.Headers))
	for _, header := range message.Headers {
		headers[string(header.Key)] = string(header.Value)
	}

	return map[string]any{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"timestamp": message.Timestamp.UTC().Format(time.RFC3339),
		"key":       string(message.Key),
		"payload":   payload,
		"headers":   headers,
		"node_id":   nodeID,
	}
}
