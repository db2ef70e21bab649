// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// LineageStage tracks how far a case has progressed through the pipeline.
// Transitions are monotonic within a run; a case only re-enters at Intake
// when a new batch replaces the run.
type LineageStage string

const (
	StageIntake     LineageStage = "intake"
	StageAnonymized LineageStage = "anonymized"
	StageVerified   LineageStage = "verified"
	StageScored     LineageStage = "scored"
	StageReviewed   LineageStage = "reviewed"
)

// stageOrder assigns each lineage stage a rank for monotonicity checks.
var stageOrder = map[LineageStage]int{
	StageIntake:     0,
	StageAnonymized: 1,
	StageVerified:   2,
	StageScored:     3,
	StageReviewed:   4,
}

// Rank returns the ordinal position of the stage, or -1 if unknown.
func (s LineageStage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// Canonical field names, in the order every stage emits them.
const (
	FieldApplicantID = "applicant_id"
	FieldFullName    = "full_name"
	FieldDOB         = "dob"
	FieldNationality = "nationality"
	FieldDocumentID  = "document_id"
	FieldEmail       = "email"
	FieldPhone       = "phone"
	FieldAddress     = "address"
	FieldAmount      = "transaction_amount"
	FieldChannel     = "channel"
	FieldRiskScore   = "risk_score"
	FieldNotes       = "notes"
)

// CanonicalFields is the fixed ordered field set produced by the normalizer.
// Extra input columns are appended after this block.
func CanonicalFields() []string {
	return []string{
		FieldApplicantID,
		FieldFullName,
		FieldDOB,
		FieldNationality,
		FieldDocumentID,
		FieldEmail,
		FieldPhone,
		FieldAddress,
		FieldAmount,
		FieldChannel,
		FieldRiskScore,
		FieldNotes,
	}
}

// Case is one applicant/transaction record flowing through the pipeline.
// RawFields holds the canonical columns plus any extra input columns;
// downstream stages add derived data but never delete upstream fields.
type Case struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenantId"`
	RunID    string            `json:"runId"`

	RawFields   map[string]string `json:"rawFields"`
	ExtraFields []string          `json:"extraFields,omitempty"` // non-canonical columns, input order

	Verification *VerificationResult `json:"verification,omitempty"`
	Assessment   *FraudAssessment    `json:"assessment,omitempty"`

	Stage     LineageStage `json:"stage"`
	CreatedAt time.Time    `json:"createdAt"`
}

// AdvanceTo moves the case to a later lineage stage. Moving backward is a
// no-op: stage transitions are monotonic within a run.
func (c *Case) AdvanceTo(stage LineageStage) {
	if stage.Rank() > c.Stage.Rank() {
		c.Stage = stage
	}
}

// Case status values emitted by the verification simulator and risk scorer.
const (
	ActionReview    = "Review"
	ActionAutoClear = "Auto-Clear"
)

// VerificationResult holds the simulated KYC outcome for a case.
// Status is a pure function of three flags: Review iff sanctions_hit OR
// NOT id_doc_verified OR NOT address_verified.
type VerificationResult struct {
	IDDocVerified   bool   `json:"idDocVerified"`
	SelfieMatch     bool   `json:"selfieMatch"`
	AddressVerified bool   `json:"addressVerified"`
	SanctionsHit    bool   `json:"sanctionsHit"`
	PEPFlag         bool   `json:"pepFlag"`
	Status          string `json:"status"` // "Review" or "Auto-Clear"
}

// FraudAssessment is the risk scorer's output for a case.
type FraudAssessment struct {
	HeuristicScore float64  `json:"heuristicScore"`
	ModelScore     *float64 `json:"modelScore,omitempty"` // present only when a classifier ran
	BlendedScore   float64  `json:"blendedScore"`
	Action         string   `json:"action"` // "Review" or "Auto-Clear"
	ThresholdUsed  float64  `json:"thresholdUsed"`

	// ModelDegraded is set when a supplied classifier failed and the
	// scorer fell back to the heuristic-only score.
	ModelDegraded bool `json:"modelDegraded,omitempty"`

	// Queue and Priority are assigned by the routing rules engine for
	// cases routed to review.
	Queue    string `json:"queue,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// Reviewer decision values. Review, Reject and Request Info label a case
// positive for training; Approve and Auto-Clear label it negative.
const (
	DecisionReview      = "Review"
	DecisionAutoClear   = "Auto-Clear"
	DecisionRequestInfo = "Request Info"
	DecisionReject      = "Reject"
	DecisionApprove     = "Approve"
)

// FeedbackRecord is one reviewer decision for a case. The full feedback set
// is replaced on every save; this is the training input.
type FeedbackRecord struct {
	CaseID        string    `json:"caseId"`
	AIAction      string    `json:"aiAction"` // the system's prior decision, immutable snapshot
	HumanDecision string    `json:"humanDecision"`
	HumanNotes    string    `json:"humanNotes,omitempty"`
	SavedAt       time.Time `json:"savedAt"`
}

// Positive reports whether the reviewer decision labels the case as fraud
// for training purposes.
func (f *FeedbackRecord) Positive() bool {
	switch f.HumanDecision {
	case DecisionReview, DecisionReject, DecisionRequestInfo:
		return true
	}
	return false
}

// ReviewLogEntry is one row of the append-only review audit trail. It is a
// separate persistence path from the feedback table and never feeds training.
type ReviewLogEntry struct {
	ID       string    `json:"id"`
	CaseID   string    `json:"caseId"`
	Analyst  string    `json:"analyst"`
	Decision string    `json:"decision"`
	Notes    string    `json:"notes,omitempty"`
	LoggedAt time.Time `json:"loggedAt"`
}

// Run identifies one batch traversal of the pipeline.
type Run struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	Stage     LineageStage `json:"stage"`
	CaseCount int          `json:"caseCount"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
