package ml

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GradientBoost fits shallow regression trees to the residuals of a
// log-odds model, shrunk by the learning rate. Deterministic: no sampling.
type GradientBoost struct {
	Trees        []*TreeNode `json:"trees"`
	InitialScore float64     `json:"initialScore"` // log-odds of the base rate
	Rounds       int         `json:"rounds"`
	LearningRate float64     `json:"learningRate"`
	MaxDepth     int         `json:"maxDepth"`
}

// NewGradientBoost returns an untrained booster with default
// hyperparameters.
func NewGradientBoost() *GradientBoost {
	return &GradientBoost{
		Rounds:       100,
		LearningRate: 0.1,
		MaxDepth:     3,
	}
}

// Algorithm returns the registry algorithm name.
func (m *GradientBoost) Algorithm() string { return domain.AlgoGradientBoost }

// Fit boosts on the logistic loss: each round fits a tree to y - p and
// moves the per-sample score by the shrunken tree output.
func (m *GradientBoost) Fit(X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("invalid training data: %d samples, %d labels", len(X), len(y))
	}

	var positives float64
	for _, v := range y {
		positives += float64(v)
	}
	base := positives / float64(len(y))
	// Clamp away from 0/1 so the initial log-odds stay finite.
	base = math.Min(math.Max(base, 1e-6), 1-1e-6)
	m.InitialScore = math.Log(base / (1 - base))

	scores := make([]float64, len(X))
	for i := range scores {
		scores[i] = m.InitialScore
	}

	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}

	residuals := make([]float64, len(X))
	m.Trees = make([]*TreeNode, 0, m.Rounds)

	for round := 0; round < m.Rounds; round++ {
		for i := range X {
			residuals[i] = float64(y[i]) - sigmoid(scores[i])
		}

		tree := buildTree(X, residuals, idx, 0, treeParams{
			maxDepth: m.MaxDepth,
			minLeaf:  2,
		})
		m.Trees = append(m.Trees, tree)

		for i, row := range X {
			scores[i] += m.LearningRate * tree.Predict(row)
		}
	}
	return nil
}

// PredictProba accumulates the boosted score and squashes it to [0,1].
func (m *GradientBoost) PredictProba(x []float64) (float64, error) {
	if len(m.Trees) == 0 {
		return 0, fmt.Errorf("model is not fitted")
	}
	score := m.InitialScore
	for _, tree := range m.Trees {
		score += m.LearningRate * tree.Predict(x)
	}
	return sigmoid(score), nil
}
