// Package anomaly implements the dual anomaly detector: a parametric z-score
// check and a non-parametric isolation-forest ensemble, reconciled into a
// single verdict per measurement. Both sub-detectors are stateless functions
// over a trailing window passed by value.
package anomaly

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// minParametricSamples is the smallest trailing window the z-score check
// accepts; anything shorter abstains.
const minParametricSamples = 24

// ZScoreResult contains the outcome of the parametric check.
type ZScoreResult struct {
	Flagged bool
	ZScore  float64
	Mean    float64
	StdDev  float64
}

// ZScore evaluates whether the candidate value is anomalous against the
// trailing window (candidate excluded). Returns ErrInsufficientHistory for
// short windows and ErrDegenerateDistribution for zero-variance windows; in
// both cases the detector abstains, it never divides by zero and never
// false-positives on constant series.
func ZScore(window []float64, candidate, threshold float64) (ZScoreResult, error) {
	if len(window) < minParametricSamples {
		return ZScoreResult{}, fmt.Errorf("%w: window has %d samples, need %d",
			airdata.ErrInsufficientHistory, len(window), minParametricSamples)
	}

	mean, std := stat.MeanStdDev(window, nil)
	if std <= 0 || math.IsNaN(std) {
		return ZScoreResult{}, fmt.Errorf("%w: zero-variance window", airdata.ErrDegenerateDistribution)
	}

	z := (candidate - mean) / std
	return ZScoreResult{
		Flagged: math.Abs(z) > threshold,
		ZScore:  z,
		Mean:    mean,
		StdDev:  std,
	}, nil
}

// zSeverity grades the z-score magnitude for event messages. The
// reconciliation table, not this ladder, decides the event severity.
func zSeverity(absZ, threshold float64) string {
	switch {
	case absZ < threshold:
		return airdata.SeverityLow
	case absZ < threshold*1.5:
		return airdata.SeverityMedium
	case absZ < threshold*2:
		return airdata.SeverityHigh
	default:
		return airdata.SeverityCritical
	}
}
