package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Consumer runs a handler over one or more topics inside a consumer group.
// A message is marked (acknowledged) only after the handler returns nil;
// handler errors and panics leave the offset uncommitted so the message is
// redelivered.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler Handler
	logger  zerolog.Logger
}

// NewConsumer joins the consumer group for the given topics
func NewConsumer(brokers []string, groupID string, topics []string, handler Handler, logger zerolog.Logger) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", groupID, err)
	}

	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		logger:  logger.With().Str("group", groupID).Logger(),
	}, nil
}

// Start consumes until the context is cancelled, rejoining the group with
// backoff after transient errors
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Strs("topics", c.topics).Msg("consumer started")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if err == sarama.ErrClosedConsumerGroup {
				return nil
			}
			c.logger.Error().Err(err).Msg("consume session failed, rejoining")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var env Envelope
		if err := json.Unmarshal(message.Value, &env); err != nil {
			// Poison message: redelivery cannot fix it, so acknowledge
			// and move on.
			c.logger.Error().Err(err).
				Str("topic", message.Topic).
				Int64("offset", message.Offset).
				Msg("discarding undecodable message")
			session.MarkMessage(message, "")
			continue
		}

		if err := c.handle(session.Context(), env); err != nil {
			c.logger.Error().Err(err).
				Str("topic", message.Topic).
				Str("event_id", env.ID).
				Msg("handler rejected message, leaving for redelivery")
			continue
		}

		session.MarkMessage(message, "")
	}
	return nil
}

// handle invokes the handler, converting a panic into a rejection
func (c *Consumer) handle(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, env)
}
