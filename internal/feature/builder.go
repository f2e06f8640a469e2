// Package feature converts raw measurement history into fixed-width feature
// vectors. Everything here is pure: calendar features come from the
// timestamp, rolling statistics from the window, nothing from the clock or
// external services.
package feature

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// Feature names in the fixed order used by every vector this package builds.
// Trained models depend on this ordering staying stable.
var Names = []string{
	"hour",
	"day_of_week",
	"is_weekend",
	"pm25",
	"pm25_mean_short",
	"pm25_std_short",
	"pm25_mean_long",
	"pm25_std_long",
	"pm25_min_long",
	"pm25_max_long",
	"pm25_lag_1",
	"pm25_lag_24",
	"pm25_change_1",
	"pm25_change_24",
}

// Config controls window lengths and the forward-fill bound.
type Config struct {
	ShortWindow int // samples in the short rolling window
	LongWindow  int // samples in the long rolling window; also the minimum history
	MaxFillGap  int // max consecutive missing samples to forward-fill
}

// Builder produces feature vectors from ordered measurement history.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder, applying defaults for zero config values
// (24-sample short window, 168-sample long window, 3-sample fill bound).
func NewBuilder(cfg Config) *Builder {
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 24
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = 168
	}
	if cfg.MaxFillGap <= 0 {
		cfg.MaxFillGap = 3
	}
	return &Builder{cfg: cfg}
}

// MinHistory returns the minimum number of samples Build requires.
func (b *Builder) MinHistory() int {
	// Long window plus the 24-sample lag looking back from the candidate.
	return b.cfg.LongWindow + 24
}

// Build produces the feature vector for the last sample of the history.
// History must be ordered by timestamp ascending for one entity.
// Returns ErrInsufficientHistory when too few samples exist and
// ErrUpstreamDataGap when missing values exceed the forward-fill bound
// inside the required window.
func (b *Builder) Build(entityID string, history []airdata.Measurement) (*airdata.FeatureVector, error) {
	series, valid := b.fillSeries(history)
	return b.buildAt(entityID, history, series, valid, len(history)-1)
}

// TrainingSet produces one feature row per usable timestamp together with
// the target value horizonSamples ahead. Rows whose window or target is
// unusable are skipped; skipped counts are returned for logging.
func (b *Builder) TrainingSet(entityID string, history []airdata.Measurement, horizonSamples int) (x [][]float64, y []float64, skipped int, err error) {
	if horizonSamples <= 0 {
		horizonSamples = 24
	}
	if len(history) < b.MinHistory()+horizonSamples {
		return nil, nil, 0, fmt.Errorf("%w: have %d samples, need %d",
			airdata.ErrInsufficientHistory, len(history), b.MinHistory()+horizonSamples)
	}

	series, valid := b.fillSeries(history)

	for i := b.MinHistory() - 1; i < len(history)-horizonSamples; i++ {
		target := series[i+horizonSamples]
		if !valid[i+horizonSamples] || math.IsNaN(target) {
			skipped++
			continue
		}
		fv, err := b.buildAt(entityID, history, series, valid, i)
		if err != nil {
			skipped++
			continue
		}
		x = append(x, fv.Values)
		y = append(y, target)
	}

	if len(x) == 0 {
		return nil, nil, skipped, fmt.Errorf("%w: no usable training rows", airdata.ErrInsufficientHistory)
	}
	return x, y, skipped, nil
}

// buildAt computes the vector for index i of the history.
func (b *Builder) buildAt(entityID string, history []airdata.Measurement, series []float64, valid []bool, i int) (*airdata.FeatureVector, error) {
	if i < 0 || len(history) < b.MinHistory() {
		return nil, fmt.Errorf("%w: have %d samples, need %d",
			airdata.ErrInsufficientHistory, len(history), b.MinHistory())
	}
	start := i - b.cfg.LongWindow + 1
	lag24 := i - 24
	if start < 0 || lag24 < 0 {
		return nil, fmt.Errorf("%w: index %d inside warm-up region", airdata.ErrInsufficientHistory, i)
	}

	// An unfillable gap anywhere in the required window is an explicit
	// failure, never a default of zero.
	for j := min(start, lag24); j <= i; j++ {
		if !valid[j] {
			return nil, fmt.Errorf("%w: entity=%s missing beyond fill bound at sample %d",
				airdata.ErrUpstreamDataGap, entityID, j)
		}
	}

	longWin := series[start : i+1]
	shortWin := series[i-b.cfg.ShortWindow+1 : i+1]

	meanS, stdS := stat.MeanStdDev(shortWin, nil)
	meanL, stdL := stat.MeanStdDev(longWin, nil)
	minL, maxL := minMax(longWin)

	ts := history[i].Timestamp.UTC()
	weekend := 0.0
	if wd := ts.Weekday(); wd == 0 || wd == 6 { // Sunday, Saturday
		weekend = 1.0
	}

	cur := series[i]
	lag1 := series[i-1]
	lagD := series[lag24]

	values := []float64{
		float64(ts.Hour()),
		float64(ts.Weekday()),
		weekend,
		cur,
		meanS,
		zeroOnNaN(stdS),
		meanL,
		zeroOnNaN(stdL),
		minL,
		maxL,
		lag1,
		lagD,
		cur - lag1,
		cur - lagD,
	}

	return &airdata.FeatureVector{
		EntityID: entityID,
		AsOf:     ts,
		Names:    Names,
		Values:   values,
	}, nil
}

// fillSeries extracts the PM2.5 series with bounded forward-fill. valid[i]
// is false where the value is missing and the fill bound was exceeded (or no
// prior value exists to fill from).
func (b *Builder) fillSeries(history []airdata.Measurement) (series []float64, valid []bool) {
	series = make([]float64, len(history))
	valid = make([]bool, len(history))

	last := math.NaN()
	gap := 0
	for i := range history {
		if v := history[i].PM25; v != nil {
			last = *v
			gap = 0
			series[i] = *v
			valid[i] = true
			continue
		}
		gap++
		if gap <= b.cfg.MaxFillGap && !math.IsNaN(last) {
			series[i] = last
			valid[i] = true
			continue
		}
		series[i] = math.NaN()
	}
	return series, valid
}

func minMax(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, v := range xs[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func zeroOnNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
