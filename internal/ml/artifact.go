package ml

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Artifact is the serialized form of a fitted classifier. It is loadable
// without retraining: the algorithm tag selects the concrete type and the
// raw model payload restores its fitted state.
type Artifact struct {
	Algorithm    string          `json:"algorithm"`
	FeatureNames []string        `json:"featureNames"`
	CreatedAt    time.Time       `json:"createdAt"`
	Model        json.RawMessage `json:"model"`
}

// Marshal serializes a fitted classifier into artifact bytes.
func Marshal(c Classifier, createdAt time.Time) ([]byte, error) {
	model, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	artifact := Artifact{
		Algorithm:    c.Algorithm(),
		FeatureNames: FeatureNames,
		CreatedAt:    createdAt.UTC(),
		Model:        model,
	}
	return json.MarshalIndent(artifact, "", "  ")
}

// Unmarshal restores a fitted classifier from artifact bytes.
func Unmarshal(data []byte) (Classifier, error) {
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}

	var c Classifier
	switch artifact.Algorithm {
	case domain.AlgoLogisticRegression:
		c = &LogisticRegression{}
	case domain.AlgoRandomForest:
		c = &RandomForest{}
	case domain.AlgoGradientBoost:
		c = &GradientBoost{}
	default:
		return nil, fmt.Errorf("unknown algorithm in artifact: %s", artifact.Algorithm)
	}

	if err := json.Unmarshal(artifact.Model, c); err != nil {
		return nil, fmt.Errorf("failed to decode %s model: %w", artifact.Algorithm, err)
	}
	return c, nil
}
