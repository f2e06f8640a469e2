package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/airguard-io/airguard/pkg/airdata"
)

// minEnsembleSamples is the smallest trailing window the isolation forest
// accepts; anything shorter abstains.
const minEnsembleSamples = 100

// defaultSubsample bounds the per-tree sample, per the original isolation
// forest formulation.
const defaultSubsample = 256

// itreeNode is one node of an isolation tree. Leaves have Feature == -1 and
// carry the count of samples that reached them.
type itreeNode struct {
	Feature int
	Split   float64
	Size    int
	Left    *itreeNode
	Right   *itreeNode
}

// IsolationForest is a randomized ensemble that scores points by how easily
// they isolate: shorter average path lengths mean more anomalous.
type IsolationForest struct {
	trees     []*itreeNode
	subsample int
	threshold float64 // score at the contamination quantile of the window
}

// IForestConfig controls forest construction.
type IForestConfig struct {
	Trees         int     // ensemble size, default 100
	Contamination float64 // expected outlier fraction, default 0.1
	Seed          int64
}

// FitIsolationForest fits the ensemble over the multivariate rows of the
// trailing window and derives the anomaly threshold from the contamination
// quantile of the window's own scores. Deterministic for a given seed.
func FitIsolationForest(cfg IForestConfig, rows [][]float64) (*IsolationForest, error) {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = 0.1
	}
	if len(rows) < minEnsembleSamples {
		return nil, fmt.Errorf("%w: %d rows, isolation forest needs %d",
			airdata.ErrInsufficientHistory, len(rows), minEnsembleSamples)
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // seeded for reproducibility, not security
	sub := defaultSubsample
	if sub > len(rows) {
		sub = len(rows)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sub))))

	f := &IsolationForest{
		trees:     make([]*itreeNode, 0, cfg.Trees),
		subsample: sub,
	}

	sample := make([][]float64, sub)
	for t := 0; t < cfg.Trees; t++ {
		for i := range sample {
			sample[i] = rows[rng.Intn(len(rows))]
		}
		f.trees = append(f.trees, buildITree(sample, 0, maxDepth, rng))
	}

	// Threshold: window scores at the (1 - contamination) quantile. Points
	// scoring above it are the expected outlier fraction.
	scores := make([]float64, len(rows))
	for i, r := range rows {
		scores[i] = f.Score(r)
	}
	sort.Float64s(scores)
	f.threshold = stat.Quantile(1-cfg.Contamination, stat.Empirical, scores, nil)

	return f, nil
}

// Score returns the anomaly score in (0, 1); higher is more anomalous.
// Scores near 0.5 are unremarkable, scores approaching 1 isolate quickly.
func (f *IsolationForest) Score(row []float64) float64 {
	var sum float64
	for _, t := range f.trees {
		sum += pathLength(t, row, 0)
	}
	avg := sum / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(float64(f.subsample)))
}

// Anomalous reports whether the row scores above the window's contamination
// threshold.
func (f *IsolationForest) Anomalous(row []float64) bool {
	return f.Score(row) > f.threshold
}

func buildITree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *itreeNode {
	if depth >= maxDepth || len(rows) <= 1 {
		return &itreeNode{Feature: -1, Size: len(rows)}
	}

	nFeatures := len(rows[0])
	feat := rng.Intn(nFeatures)

	lo, hi := rows[0][feat], rows[0][feat]
	for _, r := range rows[1:] {
		if r[feat] < lo {
			lo = r[feat]
		}
		if r[feat] > hi {
			hi = r[feat]
		}
	}
	if lo == hi {
		return &itreeNode{Feature: -1, Size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, r := range rows {
		if r[feat] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	return &itreeNode{
		Feature: feat,
		Split:   split,
		Size:    len(rows),
		Left:    buildITree(left, depth+1, maxDepth, rng),
		Right:   buildITree(right, depth+1, maxDepth, rng),
	}
}

func pathLength(n *itreeNode, row []float64, depth float64) float64 {
	if n.Feature < 0 {
		// Unresolved leaves are credited the expected extra depth for the
		// samples that pooled there.
		return depth + avgPathLength(float64(n.Size))
	}
	if row[n.Feature] < n.Split {
		return pathLength(n.Left, row, depth+1)
	}
	return pathLength(n.Right, row, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n samples, used to normalize isolation depths.
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	const euler = 0.5772156649
	return 2*(math.Log(n-1)+euler) - 2*(n-1)/n
}
