// Package ingest consumes events from Kafka and feeds them to the
// evaluation engine; it never touches RETE network internals directly.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/fluxrules/ruleengine/internal/condition"
)

// Evaluator is the subset of the engine the consumer depends on — kept
// narrow so this package never reaches into RETE/rule internals.
type Evaluator interface {
	EvaluateEvent(ctx context.Context, event condition.Event) error
}

// Consumer wraps a sarama consumer group, decoding each message as a flat
// JSON event and handing it to Evaluator.
type Consumer struct {
	group     sarama.ConsumerGroup
	topic     string
	evaluator Evaluator
	logger    *slog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, evaluator Evaluator, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: group, topic: topic, evaluator: evaluator, logger: logger}, nil
}

// Run consumes until ctx is cancelled, reconnecting the consumer group
// loop as sarama requires (Consume returns whenever a rebalance happens).
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("ingest: consumer group error", "err", err)
		}
	}()

	handler := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error { return c.group.Close() }

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			var event condition.Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				h.consumer.logger.Warn("ingest: dropping malformed event", "err", err, "offset", msg.Offset)
				sess.MarkMessage(msg, "")
				continue
			}
			if err := h.consumer.evaluator.EvaluateEvent(sess.Context(), event); err != nil {
				h.consumer.logger.Error("ingest: evaluation failed", "err", err, "offset", msg.Offset)
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
