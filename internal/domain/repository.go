package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
//
// ReplaceFeedback deliberately overwrites the entire feedback set
// (last-writer-wins, no version stamp): the reviewer's full table is
// serialized on each save. Versioning can be added behind this interface
// without touching callers.
type Repository interface {
	// Run operations
	SaveRun(ctx context.Context, tenantID string, run *Run) error
	GetRun(ctx context.Context, tenantID string, runID string) (*Run, error)
	ListRuns(ctx context.Context, tenantID string) ([]*Run, error)

	// Case operations
	SaveCases(ctx context.Context, tenantID string, cases []*Case) error
	GetCase(ctx context.Context, tenantID string, caseID string) (*Case, error)
	ListCasesByRun(ctx context.Context, tenantID string, runID string) ([]*Case, error)
	ListPendingReview(ctx context.Context, tenantID string, since time.Time) ([]*Case, error)

	// Feedback: full-overwrite editable table (training input)
	ReplaceFeedback(ctx context.Context, tenantID string, records []*FeedbackRecord) error
	ListFeedback(ctx context.Context, tenantID string) ([]*FeedbackRecord, error)

	// Review log: append-only audit trail, independent of feedback
	AppendReviewLog(ctx context.Context, tenantID string, entry *ReviewLogEntry) error
	ListReviewLog(ctx context.Context, tenantID string, caseID string) ([]*ReviewLogEntry, error)

	// Routing rule configuration
	SaveRoutingRule(ctx context.Context, tenantID string, rule *RoutingRule) error
	GetRoutingRule(ctx context.Context, tenantID string, ruleID string) (*RoutingRule, error)
	ListRoutingRules(ctx context.Context, tenantID string) ([]*RoutingRule, error)
	DeleteRoutingRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
