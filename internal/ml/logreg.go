package ml

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LogisticRegression is a binary classifier trained by full-batch gradient
// descent on standardized features. Training is deterministic: no sampling,
// fixed epoch count and learning rate.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`

	// Standardization parameters captured at fit time and reapplied at
	// prediction time.
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`

	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learningRate"`
}

// NewLogisticRegression returns an untrained model with default
// hyperparameters.
func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{
		Epochs:       200,
		LearningRate: 0.1,
	}
}

// Algorithm returns the registry algorithm name.
func (m *LogisticRegression) Algorithm() string { return domain.AlgoLogisticRegression }

// Fit trains weights by gradient descent on the binary cross-entropy loss.
func (m *LogisticRegression) Fit(X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("invalid training data: %d samples, %d labels", len(X), len(y))
	}

	nFeatures := len(X[0])
	m.Means, m.Stds = standardizeParams(X)
	m.Weights = make([]float64, nFeatures)
	m.Bias = 0

	n := float64(len(X))
	for epoch := 0; epoch < m.Epochs; epoch++ {
		grad := make([]float64, nFeatures)
		var biasGrad float64

		for i, row := range X {
			z := m.Bias
			for j, v := range row {
				z += m.Weights[j] * m.scale(j, v)
			}
			err := sigmoid(z) - float64(y[i])
			for j, v := range row {
				grad[j] += err * m.scale(j, v)
			}
			biasGrad += err
		}

		for j := range m.Weights {
			m.Weights[j] -= m.LearningRate * grad[j] / n
		}
		m.Bias -= m.LearningRate * biasGrad / n
	}

	return nil
}

// PredictProba returns the positive-class probability for one feature row.
func (m *LogisticRegression) PredictProba(x []float64) (float64, error) {
	if len(m.Weights) == 0 {
		return 0, fmt.Errorf("model is not fitted")
	}
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("feature mismatch: got %d features, want %d", len(x), len(m.Weights))
	}

	z := m.Bias
	for j, v := range x {
		z += m.Weights[j] * m.scale(j, v)
	}
	return sigmoid(z), nil
}

func (m *LogisticRegression) scale(j int, v float64) float64 {
	return (v - m.Means[j]) / m.Stds[j]
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// standardizeParams computes per-feature mean and standard deviation.
// Constant features get std 1 so scaling is a no-op instead of a division
// by zero.
func standardizeParams(X [][]float64) (means, stds []float64) {
	nFeatures := len(X[0])
	n := float64(len(X))
	means = make([]float64, nFeatures)
	stds = make([]float64, nFeatures)

	for _, row := range X {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}

	for _, row := range X {
		for j, v := range row {
			d := v - means[j]
			stds[j] += d * d
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / n)
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return means, stds
}
