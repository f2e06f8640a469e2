package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// Compile-time interface guard.
var _ Notifier = (*KafkaNotifier)(nil)

// KafkaConfig holds configuration for Kafka notification delivery.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaNotifier publishes notifications to a Kafka topic, keyed by entity so
// consumers see per-sensor ordering.
type KafkaNotifier struct {
	writer *kafkago.Writer
}

// NewKafkaNotifier creates a Kafka producer for the configured alert topic.
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaNotifier{writer: w}
}

// Notify serializes the notification and publishes it.
func (k *KafkaNotifier) Notify(ctx context.Context, n airdata.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(n.EntityID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "severity", Value: []byte(n.Severity)},
			{Key: "sent_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	return k.writer.WriteMessages(ctx, msg)
}

// Close flushes and closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// Type returns the notifier type identifier.
func (k *KafkaNotifier) Type() string {
	return "kafka"
}
