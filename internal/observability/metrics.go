// Package observability exposes Prometheus instrumentation for the
// measurement pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// pipeline.
type Metrics struct {
	MeasurementsIngested prometheus.Counter
	MeasurementsRejected prometheus.Counter
	EntitiesActive       prometheus.Gauge

	// Sweep metrics.
	SweepDuration *prometheus.HistogramVec // labels: entity_id
	SweepErrors   *prometheus.CounterVec   // labels: entity_id, stage={fetch,persist,forecast}

	// Detection and alerting metrics.
	AnomaliesDetected *prometheus.CounterVec // labels: entity_id, severity
	AlertsFired       *prometheus.CounterVec // labels: kind={anomaly,health_threshold}
	AlertsSuppressed  *prometheus.CounterVec // labels: kind
	DetectorAbstained *prometheus.CounterVec // labels: detector={zscore,isolation_forest}

	// Training metrics.
	TrainingRuns     *prometheus.CounterVec // labels: outcome={activated,rejected,failed}
	TrainingDuration prometheus.Histogram
	ModelR2          *prometheus.GaugeVec // labels: entity_id
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MeasurementsIngested,
		m.MeasurementsRejected,
		m.EntitiesActive,
		m.SweepDuration,
		m.SweepErrors,
		m.AnomaliesDetected,
		m.AlertsFired,
		m.AlertsSuppressed,
		m.DetectorAbstained,
		m.TrainingRuns,
		m.TrainingDuration,
		m.ModelR2,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MeasurementsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "measurements_ingested_total",
			Help:      "Total measurements accepted after validation.",
		}),
		MeasurementsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "measurements_rejected_total",
			Help:      "Total measurements rejected by validation.",
		}),
		EntitiesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airguard",
			Name:      "entities_active",
			Help:      "Number of entities with a running pipeline task.",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "airguard",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one detection sweep for an entity.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"entity_id"}),
		SweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "sweep_errors_total",
			Help:      "Sweep failures by entity and stage.",
		}, []string{"entity_id", "stage"}),
		AnomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "anomalies_detected_total",
			Help:      "Reconciled anomaly events by entity and severity.",
		}, []string{"entity_id", "severity"}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "alerts_fired_total",
			Help:      "Notifications dispatched by alert kind.",
		}, []string{"kind"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts swallowed by the cool-down by kind.",
		}, []string{"kind"}),
		DetectorAbstained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "detector_abstained_total",
			Help:      "Sub-detector abstentions by detector.",
		}, []string{"detector"}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airguard",
			Name:      "training_runs_total",
			Help:      "Model training runs by outcome.",
		}, []string{"outcome"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "airguard",
			Name:      "training_duration_seconds",
			Help:      "Duration of one training run including persistence.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		ModelR2: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "airguard",
			Name:      "model_r2",
			Help:      "Holdout R2 of the most recently trained model per entity.",
		}, []string{"entity_id"}),
	}
}
