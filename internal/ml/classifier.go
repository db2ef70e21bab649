// Package ml provides the binary classifiers behind the risk pipeline's
// model lifecycle: logistic regression, random forest and gradient boosting,
// all behind one strategy interface so the trainer and scorer never depend
// on a concrete algorithm.
package ml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Classifier is the strategy interface every algorithm implements.
// PredictProba returns the positive-class probability in [0,1].
type Classifier interface {
	Fit(X [][]float64, y []int) error
	PredictProba(x []float64) (float64, error)
	Algorithm() string
}

// FeatureNames is the fixed ordered feature vector shared by training and
// inference. Changing order or fill policy on one side only makes scores
// meaningless.
var FeatureNames = []string{
	domain.FieldAmount,
	domain.FieldRiskScore,
	"pep_flag",
	"sanctions_hit",
}

// New creates an untrained classifier for the named algorithm.
func New(algorithm string) (Classifier, error) {
	switch algorithm {
	case domain.AlgoLogisticRegression:
		return NewLogisticRegression(), nil
	case domain.AlgoRandomForest:
		return NewRandomForest(), nil
	case domain.AlgoGradientBoost:
		return NewGradientBoost(), nil
	default:
		return nil, fmt.Errorf("unknown algorithm: %s", algorithm)
	}
}

// CaseFeatures builds the feature vector for a case. Numeric coercion with
// null -> 0 fill, matching the training-side dataset builder exactly.
func CaseFeatures(c *domain.Case) []float64 {
	amount := parseFloat(c.RawFields[domain.FieldAmount])
	risk := parseFloat(c.RawFields[domain.FieldRiskScore])

	var pep, sanc float64
	if c.Verification != nil {
		if c.Verification.PEPFlag {
			pep = 1
		}
		if c.Verification.SanctionsHit {
			sanc = 1
		}
	}
	return []float64{amount, risk, pep, sanc}
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
