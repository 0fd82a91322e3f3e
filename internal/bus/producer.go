package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/renewtech/livechat/backend/internal/types"
	"github.com/rs/zerolog"
)

// KafkaPublisher publishes envelopes to Kafka through a synchronous
// producer. The sarama client reconnects on its own with backoff; a
// publish attempted while the broker is down returns the error to the
// caller instead of queueing silently.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	logger   zerolog.Logger
}

// NewKafkaPublisher connects a synchronous producer to the brokers
func NewKafkaPublisher(brokers []string, logger zerolog.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}

	logger.Info().Strs("brokers", brokers).Msg("event bus producer connected")

	return &KafkaPublisher{
		producer: producer,
		logger:   logger,
	}, nil
}

// Publish wraps the payload in an envelope and sends it to the topic,
// keyed for partition ordering
func (p *KafkaPublisher) Publish(_ context.Context, topic, key string, kind types.EventKind, payload interface{}) error {
	env, err := NewEnvelope(kind, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.ID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error().Err(err).
			Str("topic", topic).
			Str("event_id", env.ID).
			Msg("failed to publish event")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debug().
		Str("topic", topic).
		Str("event_id", env.ID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("event published")
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher discards events. Used when the bus is disabled in
// development; every drop is logged so it cannot pass unnoticed.
type NoopPublisher struct {
	Logger zerolog.Logger
}

func (p *NoopPublisher) Publish(_ context.Context, topic, _ string, kind types.EventKind, _ interface{}) error {
	p.Logger.Debug().Str("topic", topic).Str("kind", string(kind)).Msg("event bus disabled, event dropped")
	return nil
}
