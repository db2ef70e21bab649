package ml

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RandomForest is a bagged ensemble of regression trees over 0/1 targets.
// The predicted probability is the mean of the per-tree leaf values.
type RandomForest struct {
	Trees    []*TreeNode `json:"trees"`
	NumTrees int         `json:"numTrees"`
	MaxDepth int         `json:"maxDepth"`
	Seed     int64       `json:"seed"`
}

// NewRandomForest returns an untrained 250-tree forest with a fixed seed
// for reproducible bootstrap sampling.
func NewRandomForest() *RandomForest {
	return &RandomForest{
		NumTrees: 250,
		MaxDepth: 10,
		Seed:     1,
	}
}

// Algorithm returns the registry algorithm name.
func (m *RandomForest) Algorithm() string { return domain.AlgoRandomForest }

// Fit grows NumTrees trees, each on a bootstrap sample with per-split
// feature subsampling (sqrt of the feature count).
func (m *RandomForest) Fit(X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("invalid training data: %d samples, %d labels", len(X), len(y))
	}

	targets := make([]float64, len(y))
	for i, v := range y {
		targets[i] = float64(v)
	}

	rng := rand.New(rand.NewSource(m.Seed))
	mtry := int(math.Sqrt(float64(len(X[0]))))
	if mtry < 1 {
		mtry = 1
	}

	m.Trees = make([]*TreeNode, 0, m.NumTrees)
	for t := 0; t < m.NumTrees; t++ {
		sample := make([]int, len(X))
		for i := range sample {
			sample[i] = rng.Intn(len(X))
		}
		tree := buildTree(X, targets, sample, 0, treeParams{
			maxDepth: m.MaxDepth,
			minLeaf:  1,
			mtry:     mtry,
			rng:      rng,
		})
		m.Trees = append(m.Trees, tree)
	}
	return nil
}

// PredictProba averages leaf probabilities across the ensemble.
func (m *RandomForest) PredictProba(x []float64) (float64, error) {
	if len(m.Trees) == 0 {
		return 0, fmt.Errorf("model is not fitted")
	}
	var sum float64
	for _, tree := range m.Trees {
		sum += tree.Predict(x)
	}
	return sum / float64(len(m.Trees)), nil
}
