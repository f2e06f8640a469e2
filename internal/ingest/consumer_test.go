package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/airguard-io/airguard/internal/observability"
	"github.com/airguard-io/airguard/pkg/airdata"
)

type memSink struct {
	inserted []airdata.Measurement
	err      error
}

func (s *memSink) InsertBatch(_ context.Context, ms []airdata.Measurement) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, ms...)
	return nil
}

func testConsumer(sink Sink) *Consumer {
	return &Consumer{
		sink:    sink,
		metrics: observability.NewMetricsForTesting(),
		logger:  zap.NewNop(),
	}
}

func TestHandleValidMeasurement(t *testing.T) {
	sink := &memSink{}
	c := testConsumer(sink)

	m := airdata.Measurement{
		EntityID:  "sensor-001",
		Timestamp: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		PM25:      f(18.5),
		Source:    "sensor",
	}
	body, err := json.Marshal(m)
	require.NoError(t, err)

	require.NoError(t, c.handle(context.Background(), body))
	require.Len(t, sink.inserted, 1)
	assert.Equal(t, "sensor-001", sink.inserted[0].EntityID)
}

func TestHandleMalformedJSONDropped(t *testing.T) {
	sink := &memSink{}
	c := testConsumer(sink)

	assert.NoError(t, c.handle(context.Background(), []byte("{not json")))
	assert.Empty(t, sink.inserted)
}

func TestHandleInvalidMeasurementDropped(t *testing.T) {
	sink := &memSink{}
	c := testConsumer(sink)

	// Missing entity id fails sanitization but must not surface an error,
	// otherwise the offset would never commit.
	body, err := json.Marshal(airdata.Measurement{
		Timestamp: time.Now().UTC(),
		PM25:      f(18.5),
	})
	require.NoError(t, err)

	assert.NoError(t, c.handle(context.Background(), body))
	assert.Empty(t, sink.inserted)
}

func TestHandleSinkErrorPropagates(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	c := testConsumer(sink)

	body, err := json.Marshal(airdata.Measurement{
		EntityID:  "sensor-001",
		Timestamp: time.Now().UTC(),
		PM25:      f(18.5),
	})
	require.NoError(t, err)

	assert.Error(t, c.handle(context.Background(), body))
}
