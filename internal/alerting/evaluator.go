package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// Config controls the evaluator.
type Config struct {
	// Cooldown is the minimum gap between notifications for the same
	// entity and alert kind. Anchored at the firing that opened the
	// window; later suppressed events do not extend it.
	Cooldown time.Duration

	// HealthThreshold is the predicted pm2.5 level above which a
	// health_threshold alert fires, in ug/m3.
	HealthThreshold float64
}

func (c *Config) applyDefaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = time.Hour
	}
	if c.HealthThreshold <= 0 {
		c.HealthThreshold = 50
	}
}

// alertState tracks one entity+kind pair through the firing cycle.
type alertState struct {
	firedAt    time.Time
	fired      int64
	suppressed int64
}

// Stats summarizes evaluator activity for one entity and alert kind.
type Stats struct {
	Fired      int64
	Suppressed int64
	LastFired  time.Time
}

// Evaluator applies the cool-down state machine and fans notifications out
// to all configured notifiers. Safe for concurrent use across entities.
type Evaluator struct {
	cfg       Config
	notifiers []Notifier
	logger    *zap.Logger
	clock     clockwork.Clock

	mu     sync.Mutex
	states map[string]*alertState // entity_id + "/" + kind
}

// NewEvaluator creates an evaluator over the given notifiers. A nil clock
// defaults to the real one.
func NewEvaluator(cfg Config, notifiers []Notifier, logger *zap.Logger, clock clockwork.Clock) *Evaluator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Evaluator{
		cfg:       cfg,
		notifiers: notifiers,
		logger:    logger,
		clock:     clock,
		states:    make(map[string]*alertState),
	}
}

// HandleAnomaly evaluates a detected anomaly. Returns true when a
// notification was sent, false when the cool-down suppressed it.
func (e *Evaluator) HandleAnomaly(ctx context.Context, ev *airdata.AnomalyEvent) bool {
	n := airdata.Notification{
		EntityID:  ev.EntityID,
		Kind:      KindAnomaly,
		Severity:  ev.Severity,
		Message:   ev.Message,
		Observed:  ev.Observed,
		Timestamp: ev.Timestamp,
	}
	return e.evaluate(ctx, n)
}

// HandlePrediction evaluates a forecast against the health threshold and
// fires a health_threshold alert when the predicted level exceeds it.
// Returns true when a notification was sent.
func (e *Evaluator) HandlePrediction(ctx context.Context, p *airdata.Prediction) bool {
	if p.PredictedValue <= e.cfg.HealthThreshold {
		return false
	}
	n := airdata.Notification{
		EntityID: p.EntityID,
		Kind:     KindHealthThreshold,
		Severity: healthSeverity(p.PredictedValue, e.cfg.HealthThreshold),
		Message: fmt.Sprintf("forecast pm2.5 %.1f at %s exceeds health threshold %.0f",
			p.PredictedValue, p.TargetTime.Format(time.RFC3339), e.cfg.HealthThreshold),
		Observed:  p.PredictedValue,
		Timestamp: p.TargetTime,
	}
	return e.evaluate(ctx, n)
}

// evaluate runs the cool-down state machine for the notification's
// entity+kind key and dispatches when the window is open.
func (e *Evaluator) evaluate(ctx context.Context, n airdata.Notification) bool {
	key := n.EntityID + "/" + n.Kind
	now := e.clock.Now()

	e.mu.Lock()
	st, ok := e.states[key]
	if !ok {
		st = &alertState{}
		e.states[key] = st
	}
	if !st.firedAt.IsZero() && now.Sub(st.firedAt) < e.cfg.Cooldown {
		st.suppressed++
		suppressed := st.suppressed
		e.mu.Unlock()
		e.logger.Debug("alert suppressed by cool-down",
			zap.String("entity_id", n.EntityID),
			zap.String("kind", n.Kind),
			zap.Int64("suppressed_in_window", suppressed))
		return false
	}
	st.firedAt = now
	st.fired++
	st.suppressed = 0
	e.mu.Unlock()

	e.dispatch(ctx, n)
	return true
}

// dispatch sends the notification to every notifier. A failing channel is
// logged and skipped; it never blocks the others.
func (e *Evaluator) dispatch(ctx context.Context, n airdata.Notification) {
	e.logger.Info("alert fired",
		zap.String("entity_id", n.EntityID),
		zap.String("kind", n.Kind),
		zap.String("severity", n.Severity),
		zap.Float64("observed", n.Observed))

	for _, notifier := range e.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("notification delivery failed",
				zap.String("notifier", notifier.Type()),
				zap.String("entity_id", n.EntityID),
				zap.Error(err))
		}
	}
}

// StatsFor returns the firing stats for one entity and alert kind.
func (e *Evaluator) StatsFor(entityID, kind string) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[entityID+"/"+kind]
	if !ok {
		return Stats{}
	}
	return Stats{Fired: st.fired, Suppressed: st.suppressed, LastFired: st.firedAt}
}

// Forget drops all alert state for an entity, used when the entity is
// removed from the pipeline.
func (e *Evaluator) Forget(entityID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.states {
		if len(key) > len(entityID) && key[:len(entityID)] == entityID && key[len(entityID)] == '/' {
			delete(e.states, key)
		}
	}
}

// healthSeverity grades a threshold breach by how far past the limit the
// forecast lands.
func healthSeverity(predicted, threshold float64) string {
	switch {
	case predicted >= threshold*2:
		return airdata.SeverityCritical
	case predicted >= threshold*1.5:
		return airdata.SeverityHigh
	default:
		return airdata.SeverityMedium
	}
}
