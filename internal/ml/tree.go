package ml

import (
	"math"
	"math/rand"
	"sort"
)

// TreeNode is one node of a regression tree. Leaves carry the mean target
// of their samples; for 0/1 targets that mean is the class probability.
// The structure is fully exported so fitted trees serialize to JSON.
type TreeNode struct {
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Value     float64   `json:"value"`
	Leaf      bool      `json:"leaf"`
}

// Predict walks the tree for one feature row.
func (n *TreeNode) Predict(x []float64) float64 {
	node := n
	for !node.Leaf {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// treeParams bounds tree growth.
type treeParams struct {
	maxDepth int
	minLeaf  int

	// mtry is the number of features sampled per split; 0 means all.
	mtry int
	rng  *rand.Rand
}

// buildTree fits a regression tree on the given sample indices, splitting
// by variance reduction. For binary 0/1 targets this is equivalent to a
// gini-style split.
func buildTree(X [][]float64, y []float64, idx []int, depth int, p treeParams) *TreeNode {
	mean := meanOf(y, idx)

	if depth >= p.maxDepth || len(idx) < 2*p.minLeaf || isPure(y, idx) {
		return &TreeNode{Leaf: true, Value: mean}
	}

	feature, threshold, ok := bestSplit(X, y, idx, p)
	if !ok {
		return &TreeNode{Leaf: true, Value: mean}
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < p.minLeaf || len(right) < p.minLeaf {
		return &TreeNode{Leaf: true, Value: mean}
	}

	return &TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      buildTree(X, y, left, depth+1, p),
		Right:     buildTree(X, y, right, depth+1, p),
	}
}

// bestSplit scans candidate thresholds (midpoints of consecutive distinct
// feature values) and returns the split with the lowest weighted variance.
func bestSplit(X [][]float64, y []float64, idx []int, p treeParams) (int, float64, bool) {
	nFeatures := len(X[idx[0]])
	features := make([]int, nFeatures)
	for j := range features {
		features[j] = j
	}

	if p.mtry > 0 && p.mtry < nFeatures && p.rng != nil {
		p.rng.Shuffle(nFeatures, func(a, b int) {
			features[a], features[b] = features[b], features[a]
		})
		features = features[:p.mtry]
		sort.Ints(features)
	}

	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	for _, j := range features {
		values := make([]float64, 0, len(idx))
		for _, i := range idx {
			values = append(values, X[i][j])
		}
		sort.Float64s(values)

		for k := 1; k < len(values); k++ {
			if values[k] == values[k-1] {
				continue
			}
			threshold := (values[k] + values[k-1]) / 2

			var sumL, sumL2, sumR, sumR2 float64
			var nL, nR float64
			for _, i := range idx {
				v := y[i]
				if X[i][j] <= threshold {
					sumL += v
					sumL2 += v * v
					nL++
				} else {
					sumR += v
					sumR2 += v * v
					nR++
				}
			}
			if nL == 0 || nR == 0 {
				continue
			}

			score := (sumL2 - sumL*sumL/nL) + (sumR2 - sumR*sumR/nR)
			if score < bestScore {
				bestScore = score
				bestFeature = j
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func meanOf(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func isPure(y []float64, idx []int) bool {
	for _, i := range idx[1:] {
		if y[i] != y[idx[0]] {
			return false
		}
	}
	return true
}
