package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Derived columns appended to stage artifacts once verification and scoring
// have run. Kept stable so downstream consumers can parse any run's output.
var verificationColumns = []string{
	"id_doc_verified", "selfie_match", "address_verified",
	"sanctions_hit", "pep_flag", "kyc_status",
}

var assessmentColumns = []string{
	"heuristic_score", "model_score", "fraud_score", "action", "queue",
}

// writeStageArtifact serializes the stage's cases to a run-scoped CSV under
// the artifact directory. Failure is reported wrapped in ErrPersistence; the
// caller still returns the in-memory result alongside it.
func (p *Pipeline) writeStageArtifact(runID string, stage domain.LineageStage, cases []*domain.Case) error {
	if p.cfg.ArtifactDir == "" || len(cases) == 0 {
		return nil
	}

	dir := filepath.Join(p.cfg.ArtifactDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create artifact dir: %v", domain.ErrPersistence, err)
	}

	columns := append(domain.CanonicalFields(), cases[0].ExtraFields...)
	withVerification := stage.Rank() >= domain.StageVerified.Rank()
	withAssessment := stage.Rank() >= domain.StageScored.Rank()

	header := columns
	if withVerification {
		header = append(header, verificationColumns...)
	}
	if withAssessment {
		header = append(header, assessmentColumns...)
	}

	path := filepath.Join(dir, string(stage)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrPersistence, path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("%w: write artifact header: %v", domain.ErrPersistence, err)
	}
	for _, c := range cases {
		row := make([]string, 0, len(header))
		for _, col := range columns {
			row = append(row, c.RawFields[col])
		}
		if withVerification {
			row = append(row, verificationRow(c.Verification)...)
		}
		if withAssessment {
			row = append(row, assessmentRow(c.Assessment)...)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("%w: write artifact row: %v", domain.ErrPersistence, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flush artifact: %v", domain.ErrPersistence, err)
	}
	return nil
}

func verificationRow(v *domain.VerificationResult) []string {
	if v == nil {
		return []string{"", "", "", "", "", ""}
	}
	return []string{
		strconv.FormatBool(v.IDDocVerified),
		strconv.FormatBool(v.SelfieMatch),
		strconv.FormatBool(v.AddressVerified),
		strconv.FormatBool(v.SanctionsHit),
		strconv.FormatBool(v.PEPFlag),
		v.Status,
	}
}

func assessmentRow(a *domain.FraudAssessment) []string {
	if a == nil {
		return []string{"", "", "", "", ""}
	}
	model := ""
	if a.ModelScore != nil {
		model = strconv.FormatFloat(*a.ModelScore, 'f', -1, 64)
	}
	return []string{
		strconv.FormatFloat(a.HeuristicScore, 'f', -1, 64),
		model,
		strconv.FormatFloat(a.BlendedScore, 'f', -1, 64),
		a.Action,
		a.Queue,
	}
}

func encodePayload(payload map[string]any) ([]byte, error) {
	return json.Marshal(payload)
}
