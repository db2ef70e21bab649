// Package scoring implements the fraud risk engine: a weighted heuristic
// over amount, base risk, PEP and sanctions signals, optionally blended
// with a trained classifier's probability.
package scoring

import (
	"log/slog"
	"math"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ml"
)

// Defaults applied when a case is missing the scoring inputs.
const (
	DefaultAmount = 2500.0
	DefaultRisk   = 35.0
)

// Scorer computes fraud assessments for a batch of cases.
type Scorer struct {
	pepWeight       float64
	sanctionsWeight float64
	threshold       float64
	logger          *slog.Logger
}

// New creates a Scorer with the given weights and escalation threshold.
// Weights are expected in [0,1]; the threshold is inclusive on the Review
// side.
func New(pepWeight, sanctionsWeight, threshold float64, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		pepWeight:       pepWeight,
		sanctionsWeight: sanctionsWeight,
		threshold:       threshold,
		logger:          logger.With("component", "scorer"),
	}
}

// FromConfig creates a Scorer from pipeline configuration.
func FromConfig(cfg domain.PipelineConfig, logger *slog.Logger) *Scorer {
	return New(cfg.PEPWeight, cfg.SanctionsWeight, cfg.EscalationThreshold, logger)
}

// Score assesses every case in the batch and attaches a FraudAssessment.
// The amount term is normalized by the largest transaction amount in this
// batch. A nil model scores heuristic-only; a model that fails on a case
// degrades that case to heuristic-only and marks the degradation rather
// than failing the batch.
func (s *Scorer) Score(cases []*domain.Case, model ml.Classifier) {
	maxAmount := 1.0
	for _, c := range cases {
		if a := amountOf(c); a > maxAmount {
			maxAmount = a
		}
	}

	for _, c := range cases {
		c.Assessment = s.scoreOne(c, maxAmount, model)
		c.AdvanceTo(domain.StageScored)
	}
}

func (s *Scorer) scoreOne(c *domain.Case, maxAmount float64, model ml.Classifier) *domain.FraudAssessment {
	heuristic := s.Heuristic(amountOf(c), riskOf(c), pepOf(c), sanctionsOf(c), maxAmount)

	assessment := &domain.FraudAssessment{
		HeuristicScore: heuristic,
		BlendedScore:   heuristic,
		ThresholdUsed:  s.threshold,
	}

	if model != nil {
		proba, err := model.PredictProba(ml.CaseFeatures(c))
		if err != nil {
			s.logger.Warn("model prediction failed, degrading to heuristic-only",
				"case_id", c.ID, "error", err)
			assessment.ModelDegraded = true
		} else {
			modelScore := round2(100 * proba)
			assessment.ModelScore = &modelScore
			assessment.BlendedScore = round2((heuristic + modelScore) / 2)
		}
	}

	if assessment.BlendedScore >= s.threshold {
		assessment.Action = domain.ActionReview
	} else {
		assessment.Action = domain.ActionAutoClear
	}
	return assessment
}

// Heuristic computes the weighted 0-100 fraud score:
//
//	0.4 * clip(risk, 0, 100)
//	+ 0.3 * clip(amount/max(maxAmount,1)*100, 0, 100)
//	+ pepWeight * 100 * pep
//	+ sanctionsWeight * 100 * sanctions
//
// clipped to [0,100] and rounded to 2 decimals.
func (s *Scorer) Heuristic(amount, risk float64, pep, sanctions bool, maxAmount float64) float64 {
	if maxAmount < 1 {
		maxAmount = 1
	}
	score := 0.4*clip(risk, 0, 100) + 0.3*clip(amount/maxAmount*100, 0, 100)
	if pep {
		score += s.pepWeight * 100
	}
	if sanctions {
		score += s.sanctionsWeight * 100
	}
	return round2(clip(score, 0, 100))
}

// Threshold returns the configured escalation threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

func amountOf(c *domain.Case) float64 {
	return fieldFloat(c, domain.FieldAmount, DefaultAmount)
}

func riskOf(c *domain.Case) float64 {
	return fieldFloat(c, domain.FieldRiskScore, DefaultRisk)
}

func pepOf(c *domain.Case) bool {
	return c.Verification != nil && c.Verification.PEPFlag
}

func sanctionsOf(c *domain.Case) bool {
	return c.Verification != nil && c.Verification.SanctionsHit
}

func fieldFloat(c *domain.Case, field string, def float64) float64 {
	raw, ok := c.RawFields[field]
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
