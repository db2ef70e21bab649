package feedback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const tenantID = "tenant-001"

func newTestStore(t *testing.T) (*Store, *bus.ChannelBus) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })

	return NewStore(repo, eventBus, nil), eventBus
}

func TestBuildTable(t *testing.T) {
	cases := []*domain.Case{
		{ID: "c1", Assessment: &domain.FraudAssessment{Action: domain.ActionReview}},
		{ID: "c2"}, // unscored, skipped
		{ID: "c3", Assessment: &domain.FraudAssessment{Action: domain.ActionAutoClear}},
	}

	records := BuildTable(cases)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].CaseID != "c1" || records[1].CaseID != "c3" {
		t.Errorf("unexpected case order: %s, %s", records[0].CaseID, records[1].CaseID)
	}
	for _, r := range records {
		if r.HumanDecision != r.AIAction {
			t.Errorf("case %s: human decision should be prefilled with %s, got %s",
				r.CaseID, r.AIAction, r.HumanDecision)
		}
	}
}

func TestSaveReplacesTable(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := []*domain.FeedbackRecord{
		{CaseID: "c1", AIAction: domain.ActionReview, HumanDecision: domain.DecisionApprove},
		{CaseID: "c2", AIAction: domain.ActionReview, HumanDecision: domain.DecisionReject},
	}
	if err := store.Save(ctx, tenantID, first); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	for _, r := range first {
		if r.SavedAt.IsZero() {
			t.Errorf("case %s: SavedAt not stamped", r.CaseID)
		}
	}

	second := []*domain.FeedbackRecord{
		{CaseID: "c1", AIAction: domain.ActionReview, HumanDecision: domain.DecisionRequestInfo},
	}
	if err := store.Save(ctx, tenantID, second); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.List(ctx, tenantID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record after replace, got %d", len(got))
	}
	if got[0].HumanDecision != domain.DecisionRequestInfo {
		t.Errorf("expected Request Info, got %s", got[0].HumanDecision)
	}
}

func TestSaveRejectsMissingCaseID(t *testing.T) {
	store, _ := newTestStore(t)

	records := []*domain.FeedbackRecord{{HumanDecision: domain.DecisionApprove}}
	if err := store.Save(context.Background(), tenantID, records); err == nil {
		t.Fatal("expected error for record without case id")
	}
}

func TestLogReviewAssignsIDAndTimestamp(t *testing.T) {
	store, _ := newTestStore(t)

	entry, err := store.LogReview(context.Background(), tenantID, &domain.ReviewLogEntry{
		CaseID:   "c1",
		Analyst:  "analyst@example.com",
		Decision: domain.DecisionApprove,
	})
	if err != nil {
		t.Fatalf("log review failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected generated entry id")
	}
	if entry.LoggedAt.IsZero() {
		t.Error("expected LoggedAt to be stamped")
	}
}

func TestLogReviewValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry *domain.ReviewLogEntry
	}{
		{"MissingCaseID", &domain.ReviewLogEntry{Analyst: "a", Decision: domain.DecisionApprove}},
		{"MissingAnalyst", &domain.ReviewLogEntry{CaseID: "c1", Decision: domain.DecisionApprove}},
		{"MissingDecision", &domain.ReviewLogEntry{CaseID: "c1", Analyst: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.LogReview(ctx, tenantID, tt.entry); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLogReviewPublishesFlaggedEvent(t *testing.T) {
	store, eventBus := newTestStore(t)
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	sub, err := eventBus.Subscribe(ctx, tenantID, domain.TopicReviewFlagged, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Non-Review decisions stay quiet.
	if _, err := store.LogReview(ctx, tenantID, &domain.ReviewLogEntry{
		CaseID: "c1", Analyst: "a", Decision: domain.DecisionApprove,
	}); err != nil {
		t.Fatalf("log review failed: %v", err)
	}
	select {
	case <-received:
		t.Fatal("Approve decision should not publish an event")
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := store.LogReview(ctx, tenantID, &domain.ReviewLogEntry{
		CaseID: "c2", Analyst: "a", Decision: domain.DecisionReview,
	}); err != nil {
		t.Fatalf("log review failed: %v", err)
	}
	select {
	case msg := <-received:
		if msg.Topic != domain.TopicReviewFlagged {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected review.flagged event")
	}
}

func TestHistoryOrderedOldestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	decisions := []string{domain.DecisionRequestInfo, domain.DecisionReview, domain.DecisionReject}
	for i, d := range decisions {
		if _, err := store.LogReview(ctx, tenantID, &domain.ReviewLogEntry{
			CaseID:   "c1",
			Analyst:  "analyst@example.com",
			Decision: d,
			LoggedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("log review failed: %v", err)
		}
	}
	// A different case stays out of c1's trail.
	if _, err := store.LogReview(ctx, tenantID, &domain.ReviewLogEntry{
		CaseID: "c2", Analyst: "a", Decision: domain.DecisionApprove,
	}); err != nil {
		t.Fatalf("log review failed: %v", err)
	}

	entries, err := store.History(ctx, tenantID, "c1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Decision != decisions[i] {
			t.Errorf("entry %d: expected %s, got %s", i, decisions[i], e.Decision)
		}
	}
}
