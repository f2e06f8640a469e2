package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/airguard-io/airguard/internal/feature"
	"github.com/airguard-io/airguard/pkg/airdata"
)

// MeasurementSource provides read access to measurement history.
type MeasurementSource interface {
	Range(ctx context.Context, entityID string, from, to time.Time) ([]airdata.Measurement, error)
}

// Registry is the versioned model store. Implementations may back onto a
// filesystem, object store, or database.
type Registry interface {
	SaveVersion(ctx context.Context, info *airdata.ModelInfo, params []byte) (int64, error)
	Activate(ctx context.Context, entityID string, version int64) error
	GetActive(ctx context.Context, entityID string) (*airdata.ModelInfo, []byte, error)
	ListVersions(ctx context.Context, entityID string) ([]airdata.ModelInfo, error)
}

// Config controls training and serving.
type Config struct {
	Estimators      int
	MaxDepth        int
	Seed            int64
	MinTrainSamples int
	MinR2           float64
	HoldoutFraction float64
	Horizon         time.Duration
	LookbackDays    int
}

func (c *Config) applyDefaults() {
	if c.Estimators <= 0 {
		c.Estimators = 100
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 20
	}
	if c.MinTrainSamples <= 0 {
		c.MinTrainSamples = 168
	}
	if c.HoldoutFraction <= 0 {
		c.HoldoutFraction = 0.2
	}
	if c.Horizon <= 0 {
		c.Horizon = 24 * time.Hour
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
}

// Manager trains, versions, and serves forecast models per entity.
type Manager struct {
	cfg      Config
	source   MeasurementSource
	registry Registry
	builder  *feature.Builder
	logger   *zap.Logger
	clock    clockwork.Clock
}

// NewManager creates a Manager. A nil clock selects the real clock.
func NewManager(cfg Config, source MeasurementSource, registry Registry, builder *feature.Builder, logger *zap.Logger, clock clockwork.Clock) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:      cfg,
		source:   source,
		registry: registry,
		builder:  builder,
		logger:   logger,
		clock:    clock,
	}
}

// Train fetches history, fits a new forest, evaluates it on a chronological
// holdout, and persists it as a new version. The version is activated only
// when its holdout R^2 meets the configured minimum; otherwise the version
// is kept for audit and ErrTrainingRegression is returned alongside the
// result. A cancelled context aborts before anything is persisted.
func (m *Manager) Train(ctx context.Context, req airdata.TrainRequest) (*airdata.TrainResult, error) {
	lookback := req.LookbackDays
	if lookback <= 0 {
		lookback = m.cfg.LookbackDays
	}
	estimators := req.Estimators
	if estimators <= 0 {
		estimators = m.cfg.Estimators
	}
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = m.cfg.MaxDepth
	}

	now := m.clock.Now().UTC()
	from := now.AddDate(0, 0, -lookback)

	history, err := m.source.Range(ctx, req.EntityID, from, now)
	if err != nil {
		return nil, fmt.Errorf("fetch training history for %s: %w", req.EntityID, err)
	}
	if len(history) < m.cfg.MinTrainSamples {
		return nil, fmt.Errorf("%w: entity=%s have %d samples, need %d",
			airdata.ErrInsufficientHistory, req.EntityID, len(history), m.cfg.MinTrainSamples)
	}

	interval := sampleInterval(history)
	horizonSamples := int(m.cfg.Horizon / interval)
	if horizonSamples < 1 {
		horizonSamples = 1
	}

	x, y, skipped, err := m.builder.TrainingSet(req.EntityID, history, horizonSamples)
	if err != nil {
		return nil, fmt.Errorf("build training set for %s: %w", req.EntityID, err)
	}
	if skipped > 0 {
		m.logger.Debug("training rows skipped over data gaps",
			zap.String("entity_id", req.EntityID),
			zap.Int("skipped", skipped))
	}

	trainX, trainY, testX, testY := chronoSplit(x, y, m.cfg.HoldoutFraction)

	forest, err := FitForest(ctx, ForestConfig{
		Estimators: estimators,
		MaxDepth:   maxDepth,
		Seed:       m.cfg.Seed,
	}, feature.Names, trainX, trainY)
	if err != nil {
		return nil, fmt.Errorf("fit forest for %s: %w", req.EntityID, err)
	}

	predicted, err := forest.PredictBatch(testX)
	if err != nil {
		return nil, fmt.Errorf("evaluate holdout for %s: %w", req.EntityID, err)
	}
	metrics := Evaluate(testY, predicted)

	params, err := forest.Marshal()
	if err != nil {
		return nil, err
	}

	info := &airdata.ModelInfo{
		EntityID:     req.EntityID,
		TrainedAt:    now,
		Metrics:      metrics,
		MinTrainSize: m.cfg.MinTrainSamples,
	}
	version, err := m.registry.SaveVersion(ctx, info, params)
	if err != nil {
		return nil, fmt.Errorf("save model version for %s: %w", req.EntityID, err)
	}

	result := &airdata.TrainResult{
		EntityID:     req.EntityID,
		ModelVersion: version,
		Metrics:      metrics,
		TrainedAt:    now,
	}

	if metrics.R2 < m.cfg.MinR2 {
		result.Status = "rejected"
		m.logger.Warn("new model below R2 minimum, not activated",
			zap.String("entity_id", req.EntityID),
			zap.Int64("version", version),
			zap.Float64("r2", metrics.R2),
			zap.Float64("min_r2", m.cfg.MinR2))
		return result, fmt.Errorf("%w: entity=%s version=%d r2=%.4f min=%.4f",
			airdata.ErrTrainingRegression, req.EntityID, version, metrics.R2, m.cfg.MinR2)
	}

	if err := m.registry.Activate(ctx, req.EntityID, version); err != nil {
		return nil, fmt.Errorf("activate model for %s: %w", req.EntityID, err)
	}
	result.Status = "activated"

	m.logger.Info("model trained and activated",
		zap.String("entity_id", req.EntityID),
		zap.Int64("version", version),
		zap.Float64("r2", metrics.R2),
		zap.Float64("rmse", metrics.RMSE),
		zap.Float64("mape", metrics.MAPE),
		zap.Int("train_rows", len(trainX)),
		zap.Int("holdout_rows", len(testX)))

	return result, nil
}

// Predict builds the current feature vector and serves the active model.
// Returns ErrModelNotTrained when no version is active for the entity.
// The zero asOf selects the current time.
func (m *Manager) Predict(ctx context.Context, entityID string, asOf time.Time) (*airdata.Prediction, error) {
	if asOf.IsZero() {
		asOf = m.clock.Now()
	}
	asOf = asOf.UTC()

	info, params, err := m.registry.GetActive(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load active model for %s: %w", entityID, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: entity=%s", airdata.ErrModelNotTrained, entityID)
	}

	forest, err := UnmarshalForest(params)
	if err != nil {
		return nil, fmt.Errorf("restore model %s/v%d: %w", entityID, info.Version, err)
	}

	from := asOf.AddDate(0, 0, -m.cfg.LookbackDays)
	history, err := m.source.Range(ctx, entityID, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("fetch prediction history for %s: %w", entityID, err)
	}

	fv, err := m.builder.Build(entityID, history)
	if err != nil {
		return nil, fmt.Errorf("build prediction features for %s: %w", entityID, err)
	}

	value, err := forest.Predict(fv.Values)
	if err != nil {
		return nil, fmt.Errorf("predict %s/v%d: %w", entityID, info.Version, err)
	}
	// Pollutant concentrations are non-negative.
	if value < 0 {
		value = 0
	}

	confidence := 1 - info.Metrics.MAPE/100
	confidence = math.Max(0, math.Min(1, confidence))

	return &airdata.Prediction{
		EntityID:       entityID,
		PredictedValue: value,
		Confidence:     confidence,
		Lower:          math.Max(0, value-info.Metrics.RMSE),
		Upper:          value + info.Metrics.RMSE,
		TargetTime:     asOf.Add(m.cfg.Horizon),
		ModelVersion:   info.Version,
	}, nil
}

// ListVersions exposes the registry's version history for an entity.
func (m *Manager) ListVersions(ctx context.Context, entityID string) ([]airdata.ModelInfo, error) {
	return m.registry.ListVersions(ctx, entityID)
}

// sampleInterval infers the entity's native sampling interval as the median
// gap between consecutive samples, defaulting to one hour.
func sampleInterval(history []airdata.Measurement) time.Duration {
	if len(history) < 2 {
		return time.Hour
	}
	gaps := make([]time.Duration, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		if d := history[i].Timestamp.Sub(history[i-1].Timestamp); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return time.Hour
	}
	sort.Slice(gaps, func(a, b int) bool { return gaps[a] < gaps[b] })
	return gaps[len(gaps)/2]
}
