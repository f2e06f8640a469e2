// Package pipeline schedules per-entity detection sweeps and model
// retraining. Each entity runs as an independent task: one entity's
// failures never stall the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/airguard-io/airguard/internal/alerting"
	"github.com/airguard-io/airguard/internal/anomaly"
	"github.com/airguard-io/airguard/internal/observability"
	"github.com/airguard-io/airguard/pkg/airdata"
)

// MeasurementSource reads measurement history for sweeps. Sweeps fetch by
// sample count, not by time span: an entity sampling slower than the sweep
// cadence still gets a full detection window.
type MeasurementSource interface {
	Window(ctx context.Context, entityID string, n int) ([]airdata.Measurement, error)
}

// AnomalySink persists reconciled anomaly events.
type AnomalySink interface {
	Insert(ctx context.Context, e *airdata.AnomalyEvent) error
}

// ModelManager trains and serves forecast models.
type ModelManager interface {
	Train(ctx context.Context, req airdata.TrainRequest) (*airdata.TrainResult, error)
	Predict(ctx context.Context, entityID string, asOf time.Time) (*airdata.Prediction, error)
}

// AlertHandler applies the cool-down state machine to pipeline output.
type AlertHandler interface {
	HandleAnomaly(ctx context.Context, ev *airdata.AnomalyEvent) bool
	HandlePrediction(ctx context.Context, p *airdata.Prediction) bool
	Forget(entityID string)
}

// Config controls per-entity scheduling.
type Config struct {
	SweepInterval   time.Duration // detection cadence, default 15m
	RetrainInterval time.Duration // retraining cadence, default 24h
	WindowSamples   int           // trailing window for detection, default 168
	FetchRetries    int           // attempts per history fetch, default 3
	FetchBackoff    time.Duration // initial retry backoff, default 2s
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Minute
	}
	if c.RetrainInterval <= 0 {
		c.RetrainInterval = 24 * time.Hour
	}
	if c.WindowSamples <= 0 {
		c.WindowSamples = 168
	}
	if c.FetchRetries <= 0 {
		c.FetchRetries = 3
	}
	if c.FetchBackoff <= 0 {
		c.FetchBackoff = 2 * time.Second
	}
}

// maxFetchBackoff caps the exponential retry backoff.
const maxFetchBackoff = 30 * time.Second

// entityTask is the run state for one entity.
type entityTask struct {
	ctx      context.Context
	cancel   context.CancelFunc
	training bool
}

// Orchestrator owns the lifecycle of all entity tasks.
type Orchestrator struct {
	cfg       Config
	source    MeasurementSource
	anomalies AnomalySink
	detector  *anomaly.Detector
	models    ModelManager
	alerts    AlertHandler
	metrics   *observability.Metrics
	logger    *zap.Logger
	clock     clockwork.Clock

	mu    sync.Mutex
	tasks map[string]*entityTask

	group    *errgroup.Group
	groupCtx context.Context
}

// New creates an orchestrator. Tasks start when AddEntity is called after
// Start.
func New(
	cfg Config,
	source MeasurementSource,
	anomalies AnomalySink,
	detector *anomaly.Detector,
	models ModelManager,
	alerts AlertHandler,
	metrics *observability.Metrics,
	logger *zap.Logger,
	clock clockwork.Clock,
) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Orchestrator{
		cfg:       cfg,
		source:    source,
		anomalies: anomalies,
		detector:  detector,
		models:    models,
		alerts:    alerts,
		metrics:   metrics,
		logger:    logger,
		clock:     clock,
		tasks:     make(map[string]*entityTask),
	}
}

// Start binds the orchestrator to a parent context. Must be called before
// AddEntity.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.group, o.groupCtx = errgroup.WithContext(ctx)
}

// Stop cancels every entity task and waits for them to drain.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	for id, t := range o.tasks {
		t.cancel()
		delete(o.tasks, id)
	}
	group := o.group
	o.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

// AddEntity spawns the sweep/retrain loop for an entity. Adding an entity
// that already runs is a no-op.
func (o *Orchestrator) AddEntity(entityID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.group == nil {
		return errors.New("orchestrator not started")
	}
	if _, ok := o.tasks[entityID]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(o.groupCtx)
	o.tasks[entityID] = &entityTask{ctx: ctx, cancel: cancel}
	o.metrics.EntitiesActive.Inc()

	o.group.Go(func() error {
		defer o.metrics.EntitiesActive.Dec()
		o.runEntity(ctx, entityID)
		return nil
	})

	o.logger.Info("entity task started", zap.String("entity_id", entityID))
	return nil
}

// RemoveEntity cancels the entity's task, including any in-flight training,
// and drops its alert state. Persisted measurements, events, and model
// versions are retained.
func (o *Orchestrator) RemoveEntity(entityID string) {
	o.mu.Lock()
	t, ok := o.tasks[entityID]
	if ok {
		t.cancel()
		delete(o.tasks, entityID)
	}
	o.mu.Unlock()

	if !ok {
		return
	}
	o.alerts.Forget(entityID)
	o.logger.Info("entity task removed", zap.String("entity_id", entityID))
}

// Entities lists the entity IDs with a running task.
func (o *Orchestrator) Entities() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.tasks))
	for id := range o.tasks {
		out = append(out, id)
	}
	return out
}

// runEntity is one entity's loop: a sweep on every sweep tick and a
// training trigger on every retrain tick. Errors are logged and counted,
// never propagated, so the loop survives transient failures.
func (o *Orchestrator) runEntity(ctx context.Context, entityID string) {
	sweep := o.clock.NewTicker(o.cfg.SweepInterval)
	defer sweep.Stop()
	retrain := o.clock.NewTicker(o.cfg.RetrainInterval)
	defer retrain.Stop()

	// Immediate first sweep so a fresh entity is covered before the first
	// tick.
	o.sweep(ctx, entityID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.Chan():
			o.sweep(ctx, entityID)
		case <-retrain.Chan():
			if _, err := o.TriggerTraining(ctx, airdata.TrainRequest{EntityID: entityID}); err != nil {
				switch {
				case errors.Is(err, airdata.ErrTrainingInFlight):
					// A manual trigger is still running; the next tick
					// will retry.
				case errors.Is(err, airdata.ErrTrainingRegression):
					o.logger.Warn("scheduled retrain rejected",
						zap.String("entity_id", entityID), zap.Error(err))
				default:
					o.logger.Warn("scheduled retrain failed",
						zap.String("entity_id", entityID), zap.Error(err))
				}
			}
		}
	}
}

// TriggerTraining runs one training pass for the entity. At most one run
// per entity may be in flight; concurrent triggers are rejected with
// ErrTrainingInFlight, not queued. Removing the entity cancels the run.
func (o *Orchestrator) TriggerTraining(ctx context.Context, req airdata.TrainRequest) (*airdata.TrainResult, error) {
	o.mu.Lock()
	t, ok := o.tasks[req.EntityID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("entity %s: no running task", req.EntityID)
	}
	if t.training {
		o.mu.Unlock()
		return nil, fmt.Errorf("entity %s: %w", req.EntityID, airdata.ErrTrainingInFlight)
	}
	t.training = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if cur, still := o.tasks[req.EntityID]; still && cur == t {
			cur.training = false
		}
		o.mu.Unlock()
	}()

	// Train under the entity's context so RemoveEntity cancels the run;
	// the caller's context still applies through AfterFunc.
	trainCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	start := o.clock.Now()
	result, err := o.models.Train(trainCtx, req)
	o.metrics.TrainingDuration.Observe(o.clock.Since(start).Seconds())

	switch {
	case err == nil:
		o.metrics.TrainingRuns.WithLabelValues("activated").Inc()
		o.metrics.ModelR2.WithLabelValues(req.EntityID).Set(result.Metrics.R2)
	case errors.Is(err, airdata.ErrTrainingRegression):
		o.metrics.TrainingRuns.WithLabelValues("rejected").Inc()
		if result != nil {
			o.metrics.ModelR2.WithLabelValues(req.EntityID).Set(result.Metrics.R2)
		}
	default:
		o.metrics.TrainingRuns.WithLabelValues("failed").Inc()
	}
	return result, err
}

// sweep fetches the trailing window, runs detection on the newest
// measurement, persists and alerts on any event, then folds the current
// forecast into the health-threshold check.
func (o *Orchestrator) sweep(ctx context.Context, entityID string) {
	start := o.clock.Now()
	defer func() {
		o.metrics.SweepDuration.WithLabelValues(entityID).Observe(o.clock.Since(start).Seconds())
	}()

	// Window plus the candidate under evaluation.
	history, err := o.fetchWithRetry(ctx, entityID, o.cfg.WindowSamples+1)
	if err != nil {
		o.metrics.SweepErrors.WithLabelValues(entityID, "fetch").Inc()
		o.logger.Warn("sweep fetch failed",
			zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	if len(history) < 2 {
		return
	}

	window, candidate := history[:len(history)-1], history[len(history)-1]

	if ev := o.detector.Evaluate(window, candidate); ev != nil {
		o.metrics.AnomaliesDetected.WithLabelValues(entityID, ev.Severity).Inc()
		if err := o.anomalies.Insert(ctx, ev); err != nil {
			o.metrics.SweepErrors.WithLabelValues(entityID, "persist").Inc()
			o.logger.Warn("anomaly persist failed",
				zap.String("entity_id", entityID), zap.Error(err))
		}
		o.countAlert(alerting.KindAnomaly, o.alerts.HandleAnomaly(ctx, ev))
	}

	pred, err := o.models.Predict(ctx, entityID, o.clock.Now())
	switch {
	case err == nil:
		// HandlePrediction returns false both below threshold and under
		// cool-down, so only firings are counted here.
		if o.alerts.HandlePrediction(ctx, pred) {
			o.metrics.AlertsFired.WithLabelValues(alerting.KindHealthThreshold).Inc()
		}
	case errors.Is(err, airdata.ErrModelNotTrained):
		// No active model yet; the retrain tick will produce one.
	default:
		o.metrics.SweepErrors.WithLabelValues(entityID, "forecast").Inc()
		o.logger.Warn("sweep forecast failed",
			zap.String("entity_id", entityID), zap.Error(err))
	}
}

func (o *Orchestrator) countAlert(kind string, fired bool) {
	if fired {
		o.metrics.AlertsFired.WithLabelValues(kind).Inc()
	} else {
		o.metrics.AlertsSuppressed.WithLabelValues(kind).Inc()
	}
}

// fetchWithRetry reads the window with capped exponential backoff between
// attempts.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, entityID string, n int) ([]airdata.Measurement, error) {
	backoff := o.cfg.FetchBackoff
	var lastErr error
	for attempt := 1; attempt <= o.cfg.FetchRetries; attempt++ {
		history, err := o.source.Window(ctx, entityID, n)
		if err == nil {
			return history, nil
		}
		lastErr = err

		if attempt == o.cfg.FetchRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.clock.After(backoff):
		}
		backoff *= 2
		if backoff > maxFetchBackoff {
			backoff = maxFetchBackoff
		}
	}
	return nil, fmt.Errorf("fetch window for %s after %d attempts: %w", entityID, o.cfg.FetchRetries, lastErr)
}
