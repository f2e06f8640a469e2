package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// ModelRegistry persists versioned forecast models. Versions are monotonic
// per entity; at most one version per entity is active.
type ModelRegistry struct {
	db *sql.DB
}

// NewModelRegistry creates a ModelRegistry backed by the given database.
func NewModelRegistry(db *sql.DB) *ModelRegistry {
	return &ModelRegistry{db: db}
}

// SaveVersion persists a new model version for the entity and returns the
// assigned version number. The version is inactive until Activate is called.
func (r *ModelRegistry) SaveVersion(ctx context.Context, info *airdata.ModelInfo, params []byte) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var version int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM forecast_models WHERE entity_id = ?",
		info.EntityID,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("next model version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO forecast_models (entity_id, version, trained_at, params, r2, mae, mape, rmse, min_train_size, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		info.EntityID, version, info.TrainedAt.UTC(), params,
		info.Metrics.R2, info.Metrics.MAE, info.Metrics.MAPE, info.Metrics.RMSE,
		info.MinTrainSize,
	); err != nil {
		return 0, fmt.Errorf("insert model version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit model version: %w", err)
	}
	return version, nil
}

// Activate marks the given version active and deactivates every other
// version for the entity, in a single transaction.
func (r *ModelRegistry) Activate(ctx context.Context, entityID string, version int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		"UPDATE forecast_models SET active = 1 WHERE entity_id = ? AND version = ?",
		entityID, version,
	)
	if err != nil {
		return fmt.Errorf("activate model: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate model: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("activate model: version %d not found for %s", version, entityID)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE forecast_models SET active = 0 WHERE entity_id = ? AND version != ?",
		entityID, version,
	); err != nil {
		return fmt.Errorf("deactivate old models: %w", err)
	}

	return tx.Commit()
}

// GetActive returns the active model version for the entity along with its
// serialized parameters. Returns (nil, nil, nil) when no version is active.
func (r *ModelRegistry) GetActive(ctx context.Context, entityID string) (*airdata.ModelInfo, []byte, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT entity_id, version, trained_at, params, r2, mae, mape, rmse, min_train_size
		FROM forecast_models WHERE entity_id = ? AND active = 1`,
		entityID,
	)

	var info airdata.ModelInfo
	var params []byte
	err := row.Scan(&info.EntityID, &info.Version, &info.TrainedAt, &params,
		&info.Metrics.R2, &info.Metrics.MAE, &info.Metrics.MAPE, &info.Metrics.RMSE,
		&info.MinTrainSize)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get active model: %w", err)
	}
	info.TrainedAt = info.TrainedAt.UTC()
	info.Active = true
	return &info, params, nil
}

// ListVersions returns all model versions for an entity, newest first.
func (r *ModelRegistry) ListVersions(ctx context.Context, entityID string) ([]airdata.ModelInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, version, trained_at, r2, mae, mape, rmse, min_train_size, active
		FROM forecast_models WHERE entity_id = ?
		ORDER BY version DESC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var out []airdata.ModelInfo
	for rows.Next() {
		var info airdata.ModelInfo
		var active int
		var trainedAt time.Time
		if err := rows.Scan(&info.EntityID, &info.Version, &trainedAt,
			&info.Metrics.R2, &info.Metrics.MAE, &info.Metrics.MAPE, &info.Metrics.RMSE,
			&info.MinTrainSize, &active); err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		info.TrainedAt = trainedAt.UTC()
		info.Active = active != 0
		out = append(out, info)
	}
	return out, rows.Err()
}
