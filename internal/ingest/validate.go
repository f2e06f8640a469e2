// Package ingest validates and sanitizes measurement records arriving from
// upstream producers before they enter the pipeline.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// Pollutant concentration bounds in ug/m3. Readings outside these limits are
// physically implausible for ambient monitoring and are treated as sensor
// faults, not data.
const (
	maxPM25 = 1000.0
	maxPM10 = 2000.0
	maxNO2  = 1000.0
	maxO3   = 1000.0
)

var (
	// ErrMissingEntity means the record carries no entity id.
	ErrMissingEntity = errors.New("measurement missing entity id")
	// ErrMissingTimestamp means the record carries no timestamp.
	ErrMissingTimestamp = errors.New("measurement missing timestamp")
	// ErrNoReadings means every pollutant field was null or invalid.
	ErrNoReadings = errors.New("measurement has no usable readings")
)

// Sanitize validates a measurement in place and drops out-of-range readings.
// Negative or implausibly large pollutant values are set to null so they can
// never reach the feature builder as feature values. The timestamp is
// normalized to UTC. Returns an error when the record as a whole is unusable.
func Sanitize(m *airdata.Measurement) error {
	if m.EntityID == "" {
		return ErrMissingEntity
	}
	if m.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	m.Timestamp = m.Timestamp.UTC()

	m.PM25 = dropOutOfRange(m.PM25, maxPM25)
	m.PM10 = dropOutOfRange(m.PM10, maxPM10)
	m.NO2 = dropOutOfRange(m.NO2, maxNO2)
	m.O3 = dropOutOfRange(m.O3, maxO3)

	if m.PM25 == nil && m.PM10 == nil && m.NO2 == nil && m.O3 == nil {
		return fmt.Errorf("%w: entity=%s ts=%s", ErrNoReadings, m.EntityID, m.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// SanitizeBatch sanitizes a slice of measurements, returning the usable ones
// and the count of rejected records.
func SanitizeBatch(ms []airdata.Measurement) ([]airdata.Measurement, int) {
	out := ms[:0]
	rejected := 0
	for i := range ms {
		if err := Sanitize(&ms[i]); err != nil {
			rejected++
			continue
		}
		out = append(out, ms[i])
	}
	return out, rejected
}

func dropOutOfRange(v *float64, max float64) *float64 {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > max {
		return nil
	}
	return v
}
