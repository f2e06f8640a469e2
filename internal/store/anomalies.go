package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// AnomalyStore persists reconciled anomaly events.
type AnomalyStore struct {
	db *sql.DB
}

// NewAnomalyStore creates an AnomalyStore backed by the given database.
func NewAnomalyStore(db *sql.DB) *AnomalyStore {
	return &AnomalyStore{db: db}
}

// Insert writes one anomaly event.
func (s *AnomalyStore) Insert(ctx context.Context, e *airdata.AnomalyEvent) error {
	detectors, err := json.Marshal(e.Detectors)
	if err != nil {
		return fmt.Errorf("marshal detectors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anomaly_events (id, entity_id, ts, observed, expected, severity, detectors, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, e.Timestamp.UTC(), e.Observed, e.Expected,
		e.Severity, string(detectors), e.Message, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert anomaly event: %w", err)
	}
	return nil
}

// Recent returns anomaly events recorded within the past windowHours,
// most recent first. Pass empty entityID to include all entities.
func (s *AnomalyStore) Recent(ctx context.Context, entityID string, windowHours, limit int) ([]airdata.AnomalyEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if windowHours <= 0 {
		windowHours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	var rows *sql.Rows
	var err error
	if entityID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, entity_id, ts, observed, expected, severity, detectors, message
			FROM anomaly_events WHERE created_at >= ?
			ORDER BY created_at DESC LIMIT ?`,
			cutoff, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, entity_id, ts, observed, expected, severity, detectors, message
			FROM anomaly_events WHERE entity_id = ? AND created_at >= ?
			ORDER BY created_at DESC LIMIT ?`,
			entityID, cutoff, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query anomaly events: %w", err)
	}
	defer rows.Close()

	var out []airdata.AnomalyEvent
	for rows.Next() {
		var e airdata.AnomalyEvent
		var detectors string
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Timestamp, &e.Observed,
			&e.Expected, &e.Severity, &detectors, &e.Message); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		if err := json.Unmarshal([]byte(detectors), &e.Detectors); err != nil {
			return nil, fmt.Errorf("unmarshal detectors: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
