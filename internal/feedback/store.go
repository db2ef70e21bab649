// Package feedback persists reviewer decisions. Two independent paths:
// the editable feedback table (full overwrite on save, the training
// input) and the append-only review log (audit trail only).
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store wraps the repository's feedback and review-log persistence.
type Store struct {
	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger
}

// NewStore creates a feedback store. The event bus is optional; when set,
// logged reviews with a Review decision publish a review.flagged event.
func NewStore(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, bus: bus, logger: logger.With("component", "feedback")}
}

// BuildTable seeds an editable feedback table from scored cases: one row
// per case, human decision prefilled with the system's action.
func BuildTable(cases []*domain.Case) []*domain.FeedbackRecord {
	var records []*domain.FeedbackRecord
	for _, c := range cases {
		if c.Assessment == nil {
			continue
		}
		records = append(records, &domain.FeedbackRecord{
			CaseID:        c.ID,
			AIAction:      c.Assessment.Action,
			HumanDecision: c.Assessment.Action,
		})
	}
	return records
}

// Save persists the full reviewer-edited table, replacing whatever was
// stored before. Rows the reviewer removed are gone after this call.
func (s *Store) Save(ctx context.Context, tenantID string, records []*domain.FeedbackRecord) error {
	now := time.Now().UTC()
	for _, r := range records {
		if r.CaseID == "" {
			return fmt.Errorf("feedback record missing case id")
		}
		if r.SavedAt.IsZero() {
			r.SavedAt = now
		}
	}
	if err := s.repo.ReplaceFeedback(ctx, tenantID, records); err != nil {
		return err
	}
	s.logger.Info("feedback table saved", "tenant_id", tenantID, "records", len(records))
	return nil
}

// List returns the current feedback table.
func (s *Store) List(ctx context.Context, tenantID string) ([]*domain.FeedbackRecord, error) {
	return s.repo.ListFeedback(ctx, tenantID)
}

// LogReview appends one discrete review to the audit trail. This never
// touches the editable feedback table.
func (s *Store) LogReview(ctx context.Context, tenantID string, entry *domain.ReviewLogEntry) (*domain.ReviewLogEntry, error) {
	if entry.CaseID == "" || entry.Analyst == "" || entry.Decision == "" {
		return nil, fmt.Errorf("review log entry requires case id, analyst and decision")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}
	if err := s.repo.AppendReviewLog(ctx, tenantID, entry); err != nil {
		return nil, err
	}

	if s.bus != nil && entry.Decision == domain.DecisionReview {
		payload, err := json.Marshal(map[string]string{
			"case_id":  entry.CaseID,
			"analyst":  entry.Analyst,
			"decision": entry.Decision,
		})
		if err == nil {
			if err := s.bus.Publish(ctx, tenantID, domain.TopicReviewFlagged, payload); err != nil {
				s.logger.Warn("failed to publish review event", "case_id", entry.CaseID, "error", err)
			}
		}
	}
	return entry, nil
}

// History returns the audit trail for a case, oldest first.
func (s *Store) History(ctx context.Context, tenantID string, caseID string) ([]*domain.ReviewLogEntry, error) {
	return s.repo.ListReviewLog(ctx, tenantID, caseID)
}
