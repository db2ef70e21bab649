// Package train builds labeled datasets from reviewer feedback or scored
// cases, fits a classifier, evaluates it on a held-out split and writes
// the artifact plus its training report to the registry's trained slot.
package train

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// DefaultSeed is the fixed seed for the stratified train/test split.
const DefaultSeed = 42

// Dataset source names recorded in the training report.
const (
	SourceFeedback = "feedback"
	SourceScored   = "scored"
	SourceUpload   = "upload"
)

// Sample is one labeled training row using the fixed feature vector.
type Sample struct {
	Features []float64
	Label    int
}

// Options selects the algorithm and labeling threshold for one training
// invocation.
type Options struct {
	Algorithm  string
	Threshold  float64 // label threshold applied to fraud scores
	Seed       int64   // split seed; 0 means DefaultSeed
	Source     string  // dataset provenance for the report
	GPUProfile string  // recorded verbatim in the report
}

// Result describes a completed training run.
type Result struct {
	ArtifactName string
	ArtifactPath string
	ReportPath   string
	HoldoutPath  string
	Report       *domain.TrainingReport
	Predictions  []domain.HoldoutPrediction
}

// Trainer fits classifiers and persists artifacts.
type Trainer struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewTrainer creates a trainer writing into the given registry.
func NewTrainer(reg *registry.Registry, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{registry: reg, logger: logger.With("component", "trainer")}
}

// FromFeedback builds samples from the reviewer feedback table, joining
// each record to its case for features. Records whose case is unknown are
// skipped: there is nothing to featurize.
func FromFeedback(records []*domain.FeedbackRecord, cases map[string]*domain.Case) []Sample {
	var samples []Sample
	for _, r := range records {
		c, ok := cases[r.CaseID]
		if !ok {
			continue
		}
		label := 0
		if r.Positive() {
			label = 1
		}
		samples = append(samples, Sample{Features: ml.CaseFeatures(c), Label: label})
	}
	return samples
}

// FromCases builds samples from scored cases. A case's label is 1 iff its
// blended fraud score meets the threshold; unscored cases are skipped.
func FromCases(cases []*domain.Case, threshold float64) []Sample {
	var samples []Sample
	for _, c := range cases {
		if c.Assessment == nil {
			continue
		}
		label := 0
		if c.Assessment.BlendedScore >= threshold {
			label = 1
		}
		samples = append(samples, Sample{Features: ml.CaseFeatures(c), Label: label})
	}
	return samples
}

// Train fits the selected algorithm on the samples and persists the model,
// report and held-out predictions. All-or-nothing: a fit or evaluation
// failure writes no artifact.
func (t *Trainer) Train(samples []Sample, opts Options) (*Result, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no rows to train on", domain.ErrInputFormat)
	}

	X := make([][]float64, len(samples))
	y := make([]int, len(samples))
	var positives int
	for i, s := range samples {
		X[i] = s.Features
		y[i] = s.Label
		positives += s.Label
	}
	negatives := len(samples) - positives
	if positives == 0 || negatives == 0 {
		return nil, fmt.Errorf("%w: labels contain a single class (%d positive, %d negative)",
			domain.ErrInsufficientClasses, positives, negatives)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = DefaultSeed
	}

	// With fewer than 2 minority examples a stratified split is
	// meaningless; train and evaluate on the full dataset instead.
	trainX, trainY := X, y
	testX, testY := X, y
	if min(positives, negatives) >= 2 {
		trainIdx, testIdx := ml.StratifiedSplit(y, 0.3, seed)
		trainX, trainY = ml.Subset(X, trainIdx), ml.SubsetLabels(y, trainIdx)
		testX, testY = ml.Subset(X, testIdx), ml.SubsetLabels(y, testIdx)
	}

	clf, err := ml.New(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if err := clf.Fit(trainX, trainY); err != nil {
		return nil, fmt.Errorf("fit %s failed: %w", opts.Algorithm, err)
	}

	scores := make([]float64, len(testX))
	predictions := make([]domain.HoldoutPrediction, len(testX))
	for i, row := range testX {
		score, err := clf.PredictProba(row)
		if err != nil {
			return nil, fmt.Errorf("holdout prediction failed: %w", err)
		}
		scores[i] = score
		predicted := 0
		if score >= 0.5 {
			predicted = 1
		}
		predictions[i] = domain.HoldoutPrediction{Actual: testY[i], Predicted: predicted, Score: round4(score)}
	}
	metrics := ml.Evaluate(testY, scores)

	createdAt := time.Now().UTC()
	report := &domain.TrainingReport{
		Timestamp:  createdAt.Format(time.RFC3339),
		Model:      opts.Algorithm,
		GPUProfile: opts.GPUProfile,
		Source:     opts.Source,
		Rows:       len(samples),
		Metrics:    metrics,
	}

	data, err := ml.Marshal(clf, createdAt)
	if err != nil {
		return nil, err
	}
	name := registry.ArtifactName(opts.Algorithm, createdAt)
	artifactPath, err := t.registry.WriteTrained(name, data)
	if err != nil {
		return nil, err
	}
	reportPath, err := t.registry.WriteReport(name, report)
	if err != nil {
		return nil, err
	}
	holdoutPath, err := t.registry.WriteHoldout(name, predictions)
	if err != nil {
		return nil, err
	}

	t.logger.Info("training complete",
		"algorithm", opts.Algorithm,
		"rows", len(samples),
		"train_rows", len(trainX),
		"test_rows", len(testX),
		"accuracy", metrics.Accuracy)

	return &Result{
		ArtifactName: name,
		ArtifactPath: artifactPath,
		ReportPath:   reportPath,
		HoldoutPath:  holdoutPath,
		Report:       report,
		Predictions:  predictions,
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
