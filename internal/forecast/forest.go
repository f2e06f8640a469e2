// Package forecast trains, versions, and serves the random-forest regressor
// that predicts next-period pollutant concentration from feature vectors.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
)

// Forest is a bootstrap-aggregated ensemble of regression trees. Training is
// deterministic for a given seed and input.
type Forest struct {
	Trees []*node  `json:"trees"`
	Names []string `json:"feature_names"`
}

// ForestConfig controls forest training.
type ForestConfig struct {
	Estimators int   // number of trees
	MaxDepth   int   // maximum depth per tree
	Seed       int64 // rng seed for bootstrap sampling
}

func (c *ForestConfig) applyDefaults() {
	if c.Estimators <= 0 {
		c.Estimators = 100
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 20
	}
}

// FitForest trains a forest on the given rows. Each tree is grown on a
// bootstrap sample of the rows. The context is checked between trees so a
// cancelled training run stops promptly and returns ctx.Err().
func FitForest(ctx context.Context, cfg ForestConfig, names []string, x [][]float64, y []float64) (*Forest, error) {
	cfg.applyDefaults()
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("fit forest: %d rows, %d targets", len(x), len(y))
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // seeded for reproducibility, not security
	params := treeParams{maxDepth: cfg.MaxDepth, minSamplesSplit: 2}

	f := &Forest{
		Trees: make([]*node, 0, cfg.Estimators),
		Names: names,
	}

	idx := make([]int, len(x))
	for t := 0; t < cfg.Estimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range idx {
			idx[i] = rng.Intn(len(x))
		}
		f.Trees = append(f.Trees, buildTree(x, y, idx, 0, params))
	}
	return f, nil
}

// Predict returns the ensemble mean prediction for one feature row.
func (f *Forest) Predict(row []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, errors.New("predict: empty forest")
	}
	if len(row) != len(f.Names) {
		return 0, fmt.Errorf("predict: row width %d, model expects %d", len(row), len(f.Names))
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += predictTree(t, row)
	}
	return sum / float64(len(f.Trees)), nil
}

// PredictBatch predicts every row.
func (f *Forest) PredictBatch(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i := range x {
		v, err := f.Predict(x[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Marshal serializes the forest for the model registry.
func (f *Forest) Marshal() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal forest: %w", err)
	}
	return b, nil
}

// UnmarshalForest restores a forest from registry bytes.
func UnmarshalForest(data []byte) (*Forest, error) {
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal forest: %w", err)
	}
	if len(f.Trees) == 0 {
		return nil, errors.New("unmarshal forest: no trees")
	}
	return &f, nil
}
