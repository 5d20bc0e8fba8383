package events

import (
	"context"
	"encoding/json"
	"fmt"

	"aiforge/internal/config"
	"aiforge/internal/logger"
	"aiforge/internal/models"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultTopic = "aiforge-progress-events"

// KafkaPublisher is the optional transport backend named in
// SPEC_FULL.md's domain stack: an alternative to ChannelBus for a host that
// wants progress events fanned out across processes instead of drained
// in-process. Grounded on the teacher's KafkaEventManager, narrowed to the
// producer side only (no Subscribe/Reader loop) since this module never
// consumes its own progress events.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher dials the brokers named by KAFKA_BROKERS
// (config.GetKafkaBrokers). Returns an error if no brokers are configured.
func NewKafkaPublisher() (*KafkaPublisher, error) {
	brokers := config.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events: KAFKA_BROKERS not set")
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    defaultTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}, nil
}

// Publish marshals event and writes it as one Kafka message, terminal
// events and all — Kafka has no queue-full concept to enforce the
// heartbeat-drop rule against, so every event published here is delivered.
func (k *KafkaPublisher) Publish(ctx context.Context, event models.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal progress event: %w", err)
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(uuid.NewString()),
		Value: payload,
	}); err != nil {
		logger.WithComponent("events").Warn("failed to publish progress event to kafka",
			zap.String("type", string(event.Type)), zap.Error(err))
		return fmt.Errorf("events: write to kafka: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer connection.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
