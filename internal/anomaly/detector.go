package anomaly

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/airguard-io/airguard/internal/observability"
	"github.com/airguard-io/airguard/pkg/airdata"
)

// Config controls both sub-detectors.
type Config struct {
	ZThreshold    float64 // z-score flag threshold, default 3.0
	Contamination float64 // isolation forest outlier fraction, default 0.1
	Trees         int     // isolation forest ensemble size, default 100
	Seed          int64
}

func (c *Config) applyDefaults() {
	if c.ZThreshold <= 0 {
		c.ZThreshold = 3.0
	}
	if c.Contamination <= 0 || c.Contamination >= 0.5 {
		c.Contamination = 0.1
	}
	if c.Trees <= 0 {
		c.Trees = 100
	}
}

// Detector reconciles the parametric and ensemble checks into at most one
// anomaly event per measurement. Stateless between calls; the trailing
// window comes from the caller on every evaluation.
type Detector struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New returns a Detector with defaults applied.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Detector {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Detector{cfg: cfg, logger: logger, metrics: metrics}
}

// Evaluate runs both sub-detectors over the trailing window and the candidate
// measurement and returns a reconciled event, or nil when the measurement is
// unremarkable. A sub-detector that cannot run (short window, zero variance)
// abstains; if both abstain the result is nil, never an error that would
// fail the sweep.
func (d *Detector) Evaluate(window []airdata.Measurement, candidate airdata.Measurement) *airdata.AnomalyEvent {
	if candidate.PM25 == nil {
		return nil
	}
	observed := *candidate.PM25

	pmWindow := pm25Series(window)

	zr, zErr := ZScore(pmWindow, observed, d.cfg.ZThreshold)
	zRan := zErr == nil
	if zErr != nil {
		d.metrics.DetectorAbstained.WithLabelValues(airdata.DetectorZScore).Inc()
		d.logger.Debug("parametric detector abstained",
			zap.String("entity_id", candidate.EntityID),
			zap.Error(zErr))
	}

	ensFlagged, ensRan := d.ensembleVerdict(window, candidate)
	if !ensRan {
		d.metrics.DetectorAbstained.WithLabelValues(airdata.DetectorIsolationForest).Inc()
	}

	zFlagged := zRan && zr.Flagged
	if !zFlagged && !ensFlagged {
		return nil
	}

	severity, detectors := reconcile(zFlagged, ensFlagged)

	mean := zr.Mean
	if !zRan {
		mean, _ = stat.MeanStdDev(pmWindow, nil)
		if math.IsNaN(mean) {
			mean = observed
		}
	}

	msg := d.describe(zFlagged, ensFlagged, zr, observed, mean)

	ev := &airdata.AnomalyEvent{
		ID:        uuid.NewString(),
		EntityID:  candidate.EntityID,
		Timestamp: candidate.Timestamp,
		Observed:  observed,
		Expected:  mean,
		Severity:  severity,
		Detectors: detectors,
		Message:   msg,
	}

	d.logger.Info("anomaly detected",
		zap.String("entity_id", ev.EntityID),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("severity", ev.Severity),
		zap.Strings("detectors", ev.Detectors),
		zap.Float64("observed", ev.Observed),
		zap.Float64("expected", ev.Expected))

	return ev
}

// ensembleVerdict fits the isolation forest over the window's multivariate
// rows and scores the candidate. Any failure, including a panic from a
// malformed window, degrades to abstention.
func (d *Detector) ensembleVerdict(window []airdata.Measurement, candidate airdata.Measurement) (flagged, ran bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("ensemble detector panicked, abstaining",
				zap.String("entity_id", candidate.EntityID),
				zap.Any("panic", r))
			flagged, ran = false, false
		}
	}()

	rows := multivariateRows(window)
	if len(rows) < minEnsembleSamples {
		return false, false
	}

	forest, err := FitIsolationForest(IForestConfig{
		Trees:         d.cfg.Trees,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	}, rows)
	if err != nil {
		d.logger.Debug("ensemble detector abstained",
			zap.String("entity_id", candidate.EntityID),
			zap.Error(err))
		return false, false
	}

	row := candidateRow(rows, candidate)
	return forest.Anomalous(row), true
}

// reconcile maps sub-detector agreement to event severity. Agreement is the
// strongest signal; the parametric check alone outranks the ensemble alone
// because its flag carries an explicit magnitude.
func reconcile(zFlagged, ensFlagged bool) (severity string, detectors []string) {
	switch {
	case zFlagged && ensFlagged:
		return airdata.SeverityCritical, []string{airdata.DetectorZScore, airdata.DetectorIsolationForest}
	case zFlagged:
		return airdata.SeverityHigh, []string{airdata.DetectorZScore}
	default:
		return airdata.SeverityMedium, []string{airdata.DetectorIsolationForest}
	}
}

func (d *Detector) describe(zFlagged, ensFlagged bool, zr ZScoreResult, observed, mean float64) string {
	switch {
	case zFlagged && ensFlagged:
		return fmt.Sprintf("pm2.5 %.1f deviates %.1f sigma from mean %.1f (%s), confirmed by isolation forest",
			observed, math.Abs(zr.ZScore), mean, zSeverity(math.Abs(zr.ZScore), d.cfg.ZThreshold))
	case zFlagged:
		return fmt.Sprintf("pm2.5 %.1f deviates %.1f sigma from mean %.1f (%s)",
			observed, math.Abs(zr.ZScore), mean, zSeverity(math.Abs(zr.ZScore), d.cfg.ZThreshold))
	default:
		return fmt.Sprintf("pm2.5 %.1f flagged by isolation forest, expected near %.1f", observed, mean)
	}
}

// pm25Series extracts the univariate pm2.5 series, skipping null readings.
func pm25Series(window []airdata.Measurement) []float64 {
	out := make([]float64, 0, len(window))
	for _, m := range window {
		if m.PM25 != nil {
			out = append(out, *m.PM25)
		}
	}
	return out
}

// pollutant column order for the multivariate rows.
const nPollutants = 4

// multivariateRows builds [pm25, pm10, no2, o3] rows from the window,
// imputing null readings with the column mean so a sparsely reported
// pollutant does not distort isolation distances.
func multivariateRows(window []airdata.Measurement) [][]float64 {
	sums := make([]float64, nPollutants)
	counts := make([]int, nPollutants)
	for _, m := range window {
		for c, v := range pollutants(m) {
			if v != nil {
				sums[c] += *v
				counts[c]++
			}
		}
	}
	means := make([]float64, nPollutants)
	for c := range means {
		if counts[c] > 0 {
			means[c] = sums[c] / float64(counts[c])
		}
	}

	rows := make([][]float64, 0, len(window))
	for _, m := range window {
		if m.PM25 == nil {
			continue
		}
		row := make([]float64, nPollutants)
		for c, v := range pollutants(m) {
			if v != nil {
				row[c] = *v
			} else {
				row[c] = means[c]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// candidateRow builds the candidate's row, imputing nulls with the window's
// column means so the candidate is scored in the same space it was not
// fitted in.
func candidateRow(windowRows [][]float64, m airdata.Measurement) []float64 {
	means := make([]float64, nPollutants)
	for c := 0; c < nPollutants; c++ {
		var sum float64
		for _, r := range windowRows {
			sum += r[c]
		}
		means[c] = sum / float64(len(windowRows))
	}
	row := make([]float64, nPollutants)
	for c, v := range pollutants(m) {
		if v != nil {
			row[c] = *v
		} else {
			row[c] = means[c]
		}
	}
	return row
}

func pollutants(m airdata.Measurement) []*float64 {
	return []*float64{m.PM25, m.PM10, m.NO2, m.O3}
}
