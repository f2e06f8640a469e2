package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airguard-io/airguard/pkg/airdata"
)

func f(v float64) *float64 { return &v }

func TestSanitize_ClampsNegativeReadings(t *testing.T) {
	m := airdata.Measurement{
		EntityID:  "city-a",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		PM25:      f(-10),
		PM10:      f(30),
	}

	require.NoError(t, Sanitize(&m))
	assert.Nil(t, m.PM25, "negative pm25 must be nulled, never used as a feature")
	require.NotNil(t, m.PM10)
	assert.Equal(t, 30.0, *m.PM10)
}

func TestSanitize_DropsImplausiblyLargeReadings(t *testing.T) {
	m := airdata.Measurement{
		EntityID:  "city-a",
		Timestamp: time.Now(),
		PM25:      f(5000),
		O3:        f(12),
	}

	require.NoError(t, Sanitize(&m))
	assert.Nil(t, m.PM25)
	assert.NotNil(t, m.O3)
}

func TestSanitize_RejectsUnusableRecords(t *testing.T) {
	tests := []struct {
		name string
		m    airdata.Measurement
		want error
	}{
		{
			name: "missing entity",
			m:    airdata.Measurement{Timestamp: time.Now(), PM25: f(10)},
			want: ErrMissingEntity,
		},
		{
			name: "missing timestamp",
			m:    airdata.Measurement{EntityID: "city-a", PM25: f(10)},
			want: ErrMissingTimestamp,
		},
		{
			name: "all readings invalid",
			m:    airdata.Measurement{EntityID: "city-a", Timestamp: time.Now(), PM25: f(-1)},
			want: ErrNoReadings,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Sanitize(&tt.m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestSanitize_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	m := airdata.Measurement{
		EntityID:  "city-a",
		Timestamp: time.Date(2026, 3, 1, 13, 0, 0, 0, loc),
		PM25:      f(10),
	}

	require.NoError(t, Sanitize(&m))
	assert.Equal(t, time.UTC, m.Timestamp.Location())
	assert.Equal(t, 12, m.Timestamp.Hour())
}

func TestSanitizeBatch(t *testing.T) {
	now := time.Now()
	in := []airdata.Measurement{
		{EntityID: "city-a", Timestamp: now, PM25: f(10)},
		{EntityID: "", Timestamp: now, PM25: f(10)},
		{EntityID: "city-a", Timestamp: now.Add(time.Hour), PM25: f(-4)},
		{EntityID: "city-a", Timestamp: now.Add(2 * time.Hour), PM10: f(22)},
	}

	out, rejected := SanitizeBatch(in)
	assert.Len(t, out, 2)
	assert.Equal(t, 2, rejected)
}
