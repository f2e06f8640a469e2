package forecast

import "sort"

// node is one node of a regression tree. Leaves have Feature == -1.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Value     float64 `json:"v"` // mean of targets at this node
	Left      *node   `json:"l,omitempty"`
	Right     *node   `json:"r,omitempty"`
}

// treeParams bound a single tree build.
type treeParams struct {
	maxDepth        int
	minSamplesSplit int
}

// buildTree grows a CART regression tree on the rows indexed by idx,
// splitting on variance reduction.
func buildTree(x [][]float64, y []float64, idx []int, depth int, p treeParams) *node {
	mean := meanAt(y, idx)
	n := &node{Feature: -1, Value: mean}

	if depth >= p.maxDepth || len(idx) < p.minSamplesSplit {
		return n
	}
	if sseAt(y, idx, mean) == 0 {
		return n // pure node
	}

	feat, thr, ok := bestSplit(x, y, idx)
	if !ok {
		return n
	}

	var left, right []int
	for _, i := range idx {
		if x[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return n
	}

	n.Feature = feat
	n.Threshold = thr
	n.Left = buildTree(x, y, left, depth+1, p)
	n.Right = buildTree(x, y, right, depth+1, p)
	return n
}

// bestSplit scans every feature for the threshold that minimizes the summed
// squared error of the two children, using prefix sums over the sorted
// feature values.
func bestSplit(x [][]float64, y []float64, idx []int) (feature int, threshold float64, ok bool) {
	nFeatures := len(x[idx[0]])
	best := sseAt(y, idx, meanAt(y, idx))
	order := make([]int, len(idx))

	for f := 0; f < nFeatures; f++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return x[order[a]][f] < x[order[b]][f] })

		// Prefix sums of targets in sorted order.
		var sumL, sumSqL float64
		sumR, sumSqR := 0.0, 0.0
		for _, i := range order {
			sumR += y[i]
			sumSqR += y[i] * y[i]
		}

		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			sumL += y[i]
			sumSqL += y[i] * y[i]
			sumR -= y[i]
			sumSqR -= y[i] * y[i]

			// No split between identical feature values.
			if x[order[k]][f] == x[order[k+1]][f] {
				continue
			}

			nL := float64(k + 1)
			nR := float64(len(order) - k - 1)
			sse := (sumSqL - sumL*sumL/nL) + (sumSqR - sumR*sumR/nR)
			if sse < best-1e-12 {
				best = sse
				feature = f
				threshold = (x[order[k]][f] + x[order[k+1]][f]) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

// predictTree walks the tree for one feature row.
func predictTree(n *node, row []float64) float64 {
	for n.Feature >= 0 {
		if row[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

func meanAt(y []float64, idx []int) float64 {
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func sseAt(y []float64, idx []int, mean float64) float64 {
	sse := 0.0
	for _, i := range idx {
		d := y[i] - mean
		sse += d * d
	}
	return sse
}
