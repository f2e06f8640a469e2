package store

import "database/sql"

// Migrations returns the pipeline's database migrations.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create measurement, anomaly, and model tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS measurements (
						entity_id TEXT NOT NULL,
						ts        DATETIME NOT NULL,
						pm25      REAL,
						pm10      REAL,
						no2       REAL,
						o3        REAL,
						source    TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (entity_id, ts)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_measurements_entity_ts ON measurements(entity_id, ts)`,

					`CREATE TABLE IF NOT EXISTS anomaly_events (
						id         TEXT PRIMARY KEY,
						entity_id  TEXT NOT NULL,
						ts         DATETIME NOT NULL,
						observed   REAL NOT NULL,
						expected   REAL NOT NULL,
						severity   TEXT NOT NULL,
						detectors  TEXT NOT NULL DEFAULT '[]',
						message    TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_anomaly_events_entity ON anomaly_events(entity_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_anomaly_events_created ON anomaly_events(created_at)`,

					`CREATE TABLE IF NOT EXISTS forecast_models (
						entity_id      TEXT NOT NULL,
						version        INTEGER NOT NULL,
						trained_at     DATETIME NOT NULL,
						params         BLOB NOT NULL,
						r2             REAL NOT NULL,
						mae            REAL NOT NULL,
						mape           REAL NOT NULL,
						rmse           REAL NOT NULL,
						min_train_size INTEGER NOT NULL,
						active         INTEGER NOT NULL DEFAULT 0,
						PRIMARY KEY (entity_id, version)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_forecast_models_active ON forecast_models(entity_id, active)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
