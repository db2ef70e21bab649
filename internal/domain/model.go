package domain

import "time"

// Algorithm names selectable by the operator.
const (
	AlgoLogisticRegression = "logreg"
	AlgoRandomForest       = "forest"
	AlgoGradientBoost      = "gboost"
)

// ModelSlot names a storage location in the registry. Only the production
// slot is consumed by default scoring.
type ModelSlot string

const (
	SlotTrained    ModelSlot = "trained"
	SlotProduction ModelSlot = "production"
)

// ModelMetrics holds evaluation metrics for a fitted classifier.
// ROCAUC is nil when undefined (e.g. a single-class test set).
type ModelMetrics struct {
	Accuracy  float64  `json:"Accuracy"`
	Precision float64  `json:"Precision"`
	Recall    float64  `json:"Recall"`
	F1        float64  `json:"F1"`
	ROCAUC    *float64 `json:"ROC-AUC"`
}

// TrainingReport is written alongside every model artifact.
type TrainingReport struct {
	Timestamp  string       `json:"timestamp"`
	Model      string       `json:"model"`
	GPUProfile string       `json:"gpu_profile"`
	Source     string       `json:"source"`
	Rows       int          `json:"rows"`
	Metrics    ModelMetrics `json:"metrics"`
}

// ModelArtifact describes a serialized classifier in a registry slot.
type ModelArtifact struct {
	ModelID   string    `json:"modelId"` // algorithm + creation timestamp
	Algorithm string    `json:"algorithm"`
	Path      string    `json:"path"`
	Slot      ModelSlot `json:"slot"`
	CreatedAt time.Time `json:"createdAt"`
}

// PromotionRecord captures the provenance written when a trained artifact is
// copied into the production slot.
type PromotionRecord struct {
	ModelPath  string          `json:"model_path"`
	PromotedAt string          `json:"promoted_at"` // ISO-8601
	Report     *TrainingReport `json:"report,omitempty"`
}

// HoldoutPrediction is one row of the held-out predictions artifact.
type HoldoutPrediction struct {
	Actual    int     `json:"actual"`
	Predicted int     `json:"predicted"`
	Score     float64 `json:"score"`
}
