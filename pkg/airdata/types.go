// Package airdata provides the shared record types exchanged between the
// AirGuard pipeline stages and external collaborators.
package airdata

import "time"

// Severity levels for anomaly events and alert notifications.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Detector identifiers recorded on anomaly events.
const (
	DetectorZScore          = "zscore"
	DetectorIsolationForest = "isolation_forest"
)

// Measurement is a single pollutant reading from an upstream producer
// (physical sensor, simulator, or regional feed). Pollutant fields are
// nullable: a nil pointer means the source did not report that pollutant.
type Measurement struct {
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	PM25      *float64  `json:"pm25"`
	PM10      *float64  `json:"pm10"`
	NO2       *float64  `json:"no2"`
	O3        *float64  `json:"o3"`
	Source    string    `json:"source"`
}

// FeatureVector is a fixed-width numeric view of one entity's recent history
// as of a single timestamp. Names and Values are parallel and ordered;
// the ordering is stable across builds so trained models stay compatible.
type FeatureVector struct {
	EntityID string    `json:"entity_id"`
	AsOf     time.Time `json:"as_of"`
	Names    []string  `json:"names"`
	Values   []float64 `json:"values"`
}

// Get returns the value of a named feature and whether it exists.
func (fv *FeatureVector) Get(name string) (float64, bool) {
	for i, n := range fv.Names {
		if n == name {
			return fv.Values[i], true
		}
	}
	return 0, false
}

// ModelMetrics holds holdout evaluation metrics for a trained model.
type ModelMetrics struct {
	R2   float64 `json:"r2"`
	MAE  float64 `json:"mae"`
	MAPE float64 `json:"mape"`
	RMSE float64 `json:"rmse"`
}

// ModelInfo describes one persisted forecast model version for an entity.
// Exactly one version per entity is active at a time.
type ModelInfo struct {
	EntityID     string       `json:"entity_id"`
	Version      int64        `json:"version"`
	TrainedAt    time.Time    `json:"trained_at"`
	Metrics      ModelMetrics `json:"metrics"`
	MinTrainSize int          `json:"min_train_size"`
	Active       bool         `json:"active"`
}

// Prediction is a single forecast produced on demand. Ephemeral, not
// authoritative state.
type Prediction struct {
	EntityID       string    `json:"entity_id"`
	PredictedValue float64   `json:"predicted_value"`
	Confidence     float64   `json:"confidence"` // 0.0-1.0
	Lower          float64   `json:"lower"`
	Upper          float64   `json:"upper"`
	TargetTime     time.Time `json:"target_timestamp"`
	ModelVersion   int64     `json:"model_version"`
}

// AnomalyEvent is a reconciled anomaly verdict for one measurement.
type AnomalyEvent struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	Observed  float64   `json:"observed_value"`
	Expected  float64   `json:"expected_value"`
	Severity  string    `json:"severity"`
	Detectors []string  `json:"detectors"`
	Message   string    `json:"message"`
}

// TrainRequest is an external training trigger for one entity.
type TrainRequest struct {
	EntityID     string `json:"entity_id"`
	LookbackDays int    `json:"lookback_days"` // 0 means the configured default
	Estimators   int    `json:"estimators"`    // 0 means the configured default
	MaxDepth     int    `json:"max_depth"`     // 0 means the configured default
}

// TrainResult is the response to a training trigger.
type TrainResult struct {
	Status       string       `json:"status"` // "activated" or "rejected"
	EntityID     string       `json:"entity_id"`
	ModelVersion int64        `json:"model_version"`
	Metrics      ModelMetrics `json:"metrics"`
	TrainedAt    time.Time    `json:"trained_at"`
}

// Notification is the record handed to external notification collaborators
// when an alert fires.
type Notification struct {
	EntityID  string    `json:"entity_id"`
	Kind      string    `json:"kind"` // alert kind, e.g. "anomaly", "health_threshold"
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Observed  float64   `json:"observed_value"`
	Timestamp time.Time `json:"timestamp"`
}
