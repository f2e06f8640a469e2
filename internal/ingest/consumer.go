package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/airguard-io/airguard/internal/observability"
	"github.com/airguard-io/airguard/pkg/airdata"
)

// Sink persists sanitized measurements.
type Sink interface {
	InsertBatch(ctx context.Context, ms []airdata.Measurement) error
}

// ConsumerConfig configures the Kafka measurement source.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads measurement JSON from a Kafka topic, sanitizes it, and
// writes it to the sink. Offsets commit only after a successful insert so a
// crash replays rather than drops.
type Consumer struct {
	reader  *kafkago.Reader
	sink    Sink
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewConsumer creates a consumer in the configured group.
func NewConsumer(cfg ConsumerConfig, sink Sink, metrics *observability.Metrics, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafkago.FirstOffset,
	})
	return &Consumer{reader: reader, sink: sink, metrics: metrics, logger: logger}
}

// Run consumes until the context is cancelled. A message that fails to
// decode or sanitize is counted, logged, and committed past; a sink failure
// leaves the offset uncommitted for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch measurement message: %w", err)
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			c.logger.Warn("measurement insert failed, leaving offset uncommitted",
				zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("commit measurement offset: %w", err)
		}
	}
}

// handle decodes and sanitizes one message body and writes the survivors.
// Only the sink error propagates; malformed input is dropped with a count.
func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var m airdata.Measurement
	if err := json.Unmarshal(body, &m); err != nil {
		c.metrics.MeasurementsRejected.Inc()
		c.logger.Warn("malformed measurement dropped", zap.Error(err))
		return nil
	}

	if err := Sanitize(&m); err != nil {
		c.metrics.MeasurementsRejected.Inc()
		c.logger.Warn("invalid measurement dropped",
			zap.String("entity_id", m.EntityID),
			zap.Error(err))
		return nil
	}

	if err := c.sink.InsertBatch(ctx, []airdata.Measurement{m}); err != nil {
		return err
	}
	c.metrics.MeasurementsIngested.Inc()
	return nil
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
