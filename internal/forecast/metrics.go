package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// Evaluate computes holdout metrics for predictions against observed values.
// MAPE terms with a zero observed value are skipped rather than dividing by
// zero.
func Evaluate(observed, predicted []float64) airdata.ModelMetrics {
	n := len(observed)
	if n == 0 || n != len(predicted) {
		return airdata.ModelMetrics{}
	}

	var sumAbs, sumSq, sumAPE float64
	apeTerms := 0
	for i := 0; i < n; i++ {
		d := observed[i] - predicted[i]
		sumAbs += math.Abs(d)
		sumSq += d * d
		if observed[i] != 0 {
			sumAPE += math.Abs(d / observed[i])
			apeTerms++
		}
	}

	m := airdata.ModelMetrics{
		MAE:  sumAbs / float64(n),
		RMSE: math.Sqrt(sumSq / float64(n)),
	}
	if apeTerms > 0 {
		m.MAPE = sumAPE / float64(apeTerms) * 100
	}

	// R^2 = 1 - SSE/SST. A constant observed series has no explainable
	// variance; report 0 rather than dividing by zero.
	meanObs := stat.Mean(observed, nil)
	var sst float64
	for _, v := range observed {
		d := v - meanObs
		sst += d * d
	}
	if sst > 0 {
		m.R2 = 1 - sumSq/sst
	}
	return m
}

// chronoSplit splits rows chronologically: the first (1-holdout) fraction
// trains, the trailing fraction evaluates. No shuffling; shuffled splits
// leak future samples into training for time series.
func chronoSplit(x [][]float64, y []float64, holdout float64) (trainX [][]float64, trainY []float64, testX [][]float64, testY []float64) {
	if holdout <= 0 || holdout >= 1 {
		holdout = 0.2
	}
	cut := len(x) - int(float64(len(x))*holdout)
	if cut < 1 {
		cut = 1
	}
	if cut >= len(x) {
		cut = len(x) - 1
	}
	return x[:cut], y[:cut], x[cut:], y[cut:]
}
