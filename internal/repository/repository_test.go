package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func scoredCase(id, runID string, blended float64, action string) *domain.Case {
	return &domain.Case{
		ID:    id,
		RunID: runID,
		RawFields: map[string]string{
			domain.FieldApplicantID: id,
			domain.FieldAmount:      "5000",
			domain.FieldRiskScore:   "60",
		},
		Verification: &domain.VerificationResult{
			IDDocVerified:   true,
			AddressVerified: true,
			Status:          domain.ActionAutoClear,
		},
		Assessment: &domain.FraudAssessment{
			HeuristicScore: blended,
			BlendedScore:   blended,
			Action:         action,
			ThresholdUsed:  70,
		},
		Stage:     domain.StageScored,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRun", func(t *testing.T) {
		now := time.Now().UTC()
		run := &domain.Run{
			ID:        "run-001",
			Stage:     domain.StageIntake,
			CaseCount: 2,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.SaveRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		// Stage advances are upserted in place.
		run.Stage = domain.StageScored
		run.UpdatedAt = now.Add(time.Second)
		if err := repo.SaveRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveRun update failed: %v", err)
		}

		retrieved, err := repo.GetRun(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if retrieved.Stage != domain.StageScored {
			t.Errorf("expected stage scored, got %s", retrieved.Stage)
		}
		if retrieved.CaseCount != 2 {
			t.Errorf("expected case count 2, got %d", retrieved.CaseCount)
		}
	})

	t.Run("SaveAndGetCases", func(t *testing.T) {
		cases := []*domain.Case{
			scoredCase("APP-20250101120000-0001", "run-001", 85, domain.ActionReview),
			scoredCase("APP-20250101120000-0002", "run-001", 20, domain.ActionAutoClear),
		}
		if err := repo.SaveCases(ctx, tenantID, cases); err != nil {
			t.Fatalf("SaveCases failed: %v", err)
		}

		retrieved, err := repo.GetCase(ctx, tenantID, "APP-20250101120000-0001")
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if retrieved.Assessment == nil || retrieved.Assessment.BlendedScore != 85 {
			t.Errorf("assessment not round-tripped: %+v", retrieved.Assessment)
		}
		if retrieved.Verification == nil || !retrieved.Verification.IDDocVerified {
			t.Errorf("verification not round-tripped: %+v", retrieved.Verification)
		}
		if retrieved.RawFields[domain.FieldAmount] != "5000" {
			t.Errorf("raw fields not round-tripped: %v", retrieved.RawFields)
		}

		byRun, err := repo.ListCasesByRun(ctx, tenantID, "run-001")
		if err != nil {
			t.Fatalf("ListCasesByRun failed: %v", err)
		}
		if len(byRun) != 2 {
			t.Errorf("expected 2 cases in run, got %d", len(byRun))
		}
	})

	t.Run("CaseWithoutVerification", func(t *testing.T) {
		c := &domain.Case{
			ID:        "APP-20250101120000-0099",
			RunID:     "run-001",
			RawFields: map[string]string{domain.FieldApplicantID: "APP-20250101120000-0099"},
			Stage:     domain.StageIntake,
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveCases(ctx, tenantID, []*domain.Case{c}); err != nil {
			t.Fatalf("SaveCases failed: %v", err)
		}

		retrieved, err := repo.GetCase(ctx, tenantID, c.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if retrieved.Verification != nil || retrieved.Assessment != nil {
			t.Errorf("intake case should have nil verification and assessment")
		}
	})

	t.Run("ListPendingReview", func(t *testing.T) {
		since := time.Now().UTC().Add(-time.Hour)
		pending, err := repo.ListPendingReview(ctx, tenantID, since)
		if err != nil {
			t.Fatalf("ListPendingReview failed: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("expected 1 pending case, got %d", len(pending))
		}
		if pending[0].Assessment.Action != domain.ActionReview {
			t.Errorf("pending case action = %q", pending[0].Assessment.Action)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetCase(ctx, "tenant-002", "APP-20250101120000-0001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got %v", err)
		}
		if _, err := repo.GetRun(ctx, "tenant-002", "run-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got %v", err)
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		if err := repo.SaveCases(ctx, "", nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListFeedback(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestFeedbackReplaceSemantics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC()

	first := []*domain.FeedbackRecord{
		{CaseID: "c1", AIAction: domain.ActionReview, HumanDecision: domain.DecisionApprove, SavedAt: now},
		{CaseID: "c2", AIAction: domain.ActionReview, HumanDecision: domain.DecisionReject, SavedAt: now},
	}
	if err := repo.ReplaceFeedback(ctx, tenantID, first); err != nil {
		t.Fatalf("ReplaceFeedback failed: %v", err)
	}

	// A second save with a smaller table removes c2 entirely.
	second := []*domain.FeedbackRecord{
		{CaseID: "c1", AIAction: domain.ActionReview, HumanDecision: domain.DecisionRequestInfo, SavedAt: now},
	}
	if err := repo.ReplaceFeedback(ctx, tenantID, second); err != nil {
		t.Fatalf("ReplaceFeedback failed: %v", err)
	}

	records, err := repo.ListFeedback(ctx, tenantID)
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after overwrite, got %d", len(records))
	}
	if records[0].CaseID != "c1" || records[0].HumanDecision != domain.DecisionRequestInfo {
		t.Errorf("unexpected surviving record: %+v", records[0])
	}
}

func TestReviewLogIndependentOfFeedback(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	entry := &domain.ReviewLogEntry{
		ID:       "log-001",
		CaseID:   "c1",
		Analyst:  "analyst-7",
		Decision: domain.DecisionReview,
		Notes:    "escalating for sanctions check",
		LoggedAt: time.Now().UTC(),
	}
	if err := repo.AppendReviewLog(ctx, tenantID, entry); err != nil {
		t.Fatalf("AppendReviewLog failed: %v", err)
	}

	// Overwriting the feedback table must not touch the log.
	if err := repo.ReplaceFeedback(ctx, tenantID, nil); err != nil {
		t.Fatalf("ReplaceFeedback failed: %v", err)
	}

	entries, err := repo.ListReviewLog(ctx, tenantID, "c1")
	if err != nil {
		t.Fatalf("ListReviewLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Analyst != "analyst-7" {
		t.Errorf("analyst = %q", entries[0].Analyst)
	}
}

func TestRoutingRuleCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	rule := &domain.RoutingRule{
		ID:         "rule-001",
		Name:       "sanctions",
		Expression: "sanctions_hit",
		Queue:      "escalation",
		Priority:   100,
		Enabled:    true,
	}
	if err := repo.SaveRoutingRule(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRoutingRule failed: %v", err)
	}

	// Upsert updates in place.
	rule.Queue = "sanctions-desk"
	if err := repo.SaveRoutingRule(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRoutingRule update failed: %v", err)
	}

	retrieved, err := repo.GetRoutingRule(ctx, tenantID, "rule-001")
	if err != nil {
		t.Fatalf("GetRoutingRule failed: %v", err)
	}
	if retrieved.Queue != "sanctions-desk" {
		t.Errorf("queue = %q, want sanctions-desk", retrieved.Queue)
	}

	lowPriority := &domain.RoutingRule{
		ID: "rule-002", Name: "amounts", Expression: "amount > 100.0",
		Queue: "standard", Priority: 10, Enabled: true,
	}
	if err := repo.SaveRoutingRule(ctx, tenantID, lowPriority); err != nil {
		t.Fatal(err)
	}

	rules, err := repo.ListRoutingRules(ctx, tenantID)
	if err != nil {
		t.Fatalf("ListRoutingRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].ID != "rule-001" {
		t.Errorf("rules not ordered by priority: first is %s", rules[0].ID)
	}

	if err := repo.DeleteRoutingRule(ctx, tenantID, "rule-001"); err != nil {
		t.Fatalf("DeleteRoutingRule failed: %v", err)
	}
	if err := repo.DeleteRoutingRule(ctx, tenantID, "rule-001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
