package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// MeasurementStore provides read/write access to the measurement history.
type MeasurementStore struct {
	db *sql.DB
}

// NewMeasurementStore creates a MeasurementStore backed by the given database.
func NewMeasurementStore(db *sql.DB) *MeasurementStore {
	return &MeasurementStore{db: db}
}

// Insert writes one measurement. Re-inserting the same (entity, timestamp)
// replaces the previous row, so upstream replays are harmless.
func (s *MeasurementStore) Insert(ctx context.Context, m *airdata.Measurement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO measurements (entity_id, ts, pm25, pm10, no2, o3, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.EntityID, m.Timestamp.UTC(), nullable(m.PM25), nullable(m.PM10),
		nullable(m.NO2), nullable(m.O3), m.Source,
	)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// InsertBatch writes multiple measurements in one transaction.
func (s *MeasurementStore) InsertBatch(ctx context.Context, ms []airdata.Measurement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for i := range ms {
		m := &ms[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO measurements (entity_id, ts, pm25, pm10, no2, o3, source)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.EntityID, m.Timestamp.UTC(), nullable(m.PM25), nullable(m.PM10),
			nullable(m.NO2), nullable(m.O3), m.Source,
		); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert measurement batch: %w", err)
		}
	}
	return tx.Commit()
}

// Range returns measurements for an entity in [from, to], ascending by time.
func (s *MeasurementStore) Range(ctx context.Context, entityID string, from, to time.Time) ([]airdata.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, ts, pm25, pm10, no2, o3, source
		FROM measurements
		WHERE entity_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`,
		entityID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []airdata.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Window returns the n most recent measurements for an entity, ascending by
// time. Fetching by sample count keeps detection windows full regardless of
// how fast or slow the entity samples.
func (s *MeasurementStore) Window(ctx context.Context, entityID string, n int) ([]airdata.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, ts, pm25, pm10, no2, o3, source
		FROM measurements WHERE entity_id = ?
		ORDER BY ts DESC LIMIT ?`,
		entityID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query measurement window: %w", err)
	}
	defer rows.Close()

	var out []airdata.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Latest returns the most recent measurement for an entity, or nil if the
// entity has no history.
func (s *MeasurementStore) Latest(ctx context.Context, entityID string) (*airdata.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, ts, pm25, pm10, no2, o3, source
		FROM measurements WHERE entity_id = ?
		ORDER BY ts DESC LIMIT 1`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest measurement: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	m, err := scanMeasurement(rows)
	if err != nil {
		return nil, err
	}
	return &m, rows.Err()
}

func scanMeasurement(rows *sql.Rows) (airdata.Measurement, error) {
	var m airdata.Measurement
	var pm25, pm10, no2, o3 sql.NullFloat64
	if err := rows.Scan(&m.EntityID, &m.Timestamp, &pm25, &pm10, &no2, &o3, &m.Source); err != nil {
		return m, fmt.Errorf("scan measurement row: %w", err)
	}
	m.Timestamp = m.Timestamp.UTC()
	m.PM25 = fromNull(pm25)
	m.PM10 = fromNull(pm10)
	m.NO2 = fromNull(no2)
	m.O3 = fromNull(o3)
	return m, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
