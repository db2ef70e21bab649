// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores or updates a pipeline run with tenant isolation.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.Run) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO runs (id, tenant_id, stage, case_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			stage = excluded.stage,
			case_count = excluded.case_count,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, string(run.Stage), run.CaseCount,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save run: %v", domain.ErrPersistence, err)
	}
	return nil
}

// GetRun retrieves a run by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, stage, case_count, created_at, updated_at
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.Run
	var stage string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &stage, &run.CaseCount,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Stage = domain.LineageStage(stage)
	return &run, nil
}

// ListRuns retrieves all runs for a tenant, most recent first.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string) ([]*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, stage, case_count, created_at, updated_at
		FROM runs
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var run domain.Run
		var stage string
		if err := rows.Scan(
			&run.ID, &run.TenantID, &stage, &run.CaseCount,
			&run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return nil, err
		}
		run.Stage = domain.LineageStage(stage)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// SaveCases upserts a batch of cases in one transaction with tenant
// isolation. Re-saving after a later stage overwrites the stored snapshot.
func (r *SQLRepository) SaveCases(ctx context.Context, tenantID string, cases []*domain.Case) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save cases: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO cases (
			id, tenant_id, run_id, raw_fields, extra_fields,
			verification, assessment, stage, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			run_id = excluded.run_id,
			raw_fields = excluded.raw_fields,
			extra_fields = excluded.extra_fields,
			verification = excluded.verification,
			assessment = excluded.assessment,
			stage = excluded.stage
	`)

	for _, c := range cases {
		rawFields, _ := json.Marshal(c.RawFields)
		extraFields, _ := json.Marshal(c.ExtraFields)
		var verification, assessment any
		if c.Verification != nil {
			data, _ := json.Marshal(c.Verification)
			verification = string(data)
		}
		if c.Assessment != nil {
			data, _ := json.Marshal(c.Assessment)
			assessment = string(data)
		}

		if _, err := tx.ExecContext(ctx, query,
			c.ID, tenantID, c.RunID,
			string(rawFields), string(extraFields),
			verification, assessment,
			string(c.Stage), c.CreatedAt,
		); err != nil {
			return fmt.Errorf("%w: save case %s: %v", domain.ErrPersistence, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save cases: %v", domain.ErrPersistence, err)
	}
	return nil
}

// GetCase retrieves a case by ID with tenant isolation.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.Case, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, run_id, raw_fields, extra_fields,
			   verification, assessment, stage, created_at
		FROM cases
		WHERE tenant_id = ? AND id = ?
	`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCasesByRun retrieves all cases in a run with tenant isolation.
func (r *SQLRepository) ListCasesByRun(ctx context.Context, tenantID string, runID string) ([]*domain.Case, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, run_id, raw_fields, extra_fields,
			   verification, assessment, stage, created_at
		FROM cases
		WHERE tenant_id = ? AND run_id = ?
		ORDER BY id
	`

	return r.queryCases(ctx, r.rebind(query), tenantID, runID)
}

// ListPendingReview retrieves scored cases created since the given time
// whose action routed them to review.
func (r *SQLRepository) ListPendingReview(ctx context.Context, tenantID string, since time.Time) ([]*domain.Case, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, run_id, raw_fields, extra_fields,
			   verification, assessment, stage, created_at
		FROM cases
		WHERE tenant_id = ? AND stage = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	cases, err := r.queryCases(ctx, r.rebind(query), tenantID, string(domain.StageScored), since)
	if err != nil {
		return nil, err
	}

	// Action lives inside the assessment JSON; filter after scanning.
	var pending []*domain.Case
	for _, c := range cases {
		if c.Assessment != nil && c.Assessment.Action == domain.ActionReview {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// ReplaceFeedback overwrites the tenant's entire feedback set in one
// transaction. Last writer wins; there is no version stamp.
func (r *SQLRepository) ReplaceFeedback(ctx context.Context, tenantID string, records []*domain.FeedbackRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin replace feedback: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM feedback WHERE tenant_id = ?`), tenantID); err != nil {
		return fmt.Errorf("%w: clear feedback: %v", domain.ErrPersistence, err)
	}

	insert := r.rebind(`
		INSERT INTO feedback (case_id, tenant_id, ai_action, human_decision, human_notes, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, insert,
			rec.CaseID, tenantID, rec.AIAction, rec.HumanDecision, rec.HumanNotes, rec.SavedAt,
		); err != nil {
			return fmt.Errorf("%w: insert feedback for %s: %v", domain.ErrPersistence, rec.CaseID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit replace feedback: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ListFeedback retrieves the tenant's current feedback table.
func (r *SQLRepository) ListFeedback(ctx context.Context, tenantID string) ([]*domain.FeedbackRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT case_id, ai_action, human_decision, human_notes, saved_at
		FROM feedback
		WHERE tenant_id = ?
		ORDER BY case_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.FeedbackRecord
	for rows.Next() {
		var rec domain.FeedbackRecord
		var notes sql.NullString
		if err := rows.Scan(&rec.CaseID, &rec.AIAction, &rec.HumanDecision, &notes, &rec.SavedAt); err != nil {
			return nil, err
		}
		rec.HumanNotes = notes.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// AppendReviewLog appends one entry to the audit trail. Entries are never
// updated or deleted.
func (r *SQLRepository) AppendReviewLog(ctx context.Context, tenantID string, entry *domain.ReviewLogEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO review_log (id, tenant_id, case_id, analyst, decision, notes, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, tenantID, entry.CaseID, entry.Analyst, entry.Decision, entry.Notes, entry.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: append review log: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ListReviewLog retrieves the audit trail for a case, oldest first.
func (r *SQLRepository) ListReviewLog(ctx context.Context, tenantID string, caseID string) ([]*domain.ReviewLogEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, case_id, analyst, decision, notes, logged_at
		FROM review_log
		WHERE tenant_id = ? AND case_id = ?
		ORDER BY logged_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.ReviewLogEntry
	for rows.Next() {
		var entry domain.ReviewLogEntry
		var notes sql.NullString
		if err := rows.Scan(&entry.ID, &entry.CaseID, &entry.Analyst, &entry.Decision, &notes, &entry.LoggedAt); err != nil {
			return nil, err
		}
		entry.Notes = notes.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// SaveRoutingRule upserts a routing rule with tenant isolation.
func (r *SQLRepository) SaveRoutingRule(ctx context.Context, tenantID string, rule *domain.RoutingRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO routing_rules (
			id, tenant_id, name, description, expression, queue, priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			queue = excluded.queue,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, rule.Queue, rule.Priority, enabled,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save routing rule: %v", domain.ErrPersistence, err)
	}
	return nil
}

// GetRoutingRule retrieves a routing rule with tenant isolation.
func (r *SQLRepository) GetRoutingRule(ctx context.Context, tenantID string, ruleID string) (*domain.RoutingRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, queue, priority, enabled, created_at, updated_at
		FROM routing_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.RoutingRule
	var description sql.NullString
	var enabled int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description,
		&rule.Expression, &rule.Queue, &rule.Priority, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rule.Description = description.String
	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListRoutingRules retrieves all routing rules for a tenant, highest
// priority first.
func (r *SQLRepository) ListRoutingRules(ctx context.Context, tenantID string) ([]*domain.RoutingRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, queue, priority, enabled, created_at, updated_at
		FROM routing_rules
		WHERE tenant_id = ?
		ORDER BY priority DESC, name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RoutingRule
	for rows.Next() {
		var rule domain.RoutingRule
		var description sql.NullString
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &description,
			&rule.Expression, &rule.Queue, &rule.Priority, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteRoutingRule removes a routing rule with tenant isolation.
func (r *SQLRepository) DeleteRoutingRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM routing_rules WHERE tenant_id = ? AND id = ?`),
		tenantID, ruleID,
	)
	if err != nil {
		return fmt.Errorf("%w: delete routing rule: %v", domain.ErrPersistence, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var rawFields, stage string
	var extraFields, verification, assessment sql.NullString

	if err := row.Scan(
		&c.ID, &c.TenantID, &c.RunID, &rawFields, &extraFields,
		&verification, &assessment, &stage, &c.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rawFields), &c.RawFields); err != nil {
		return nil, fmt.Errorf("failed to parse case fields for %s: %w", c.ID, err)
	}
	if extraFields.Valid && extraFields.String != "" && extraFields.String != "null" {
		json.Unmarshal([]byte(extraFields.String), &c.ExtraFields)
	}
	if verification.Valid && verification.String != "" {
		json.Unmarshal([]byte(verification.String), &c.Verification)
	}
	if assessment.Valid && assessment.String != "" {
		json.Unmarshal([]byte(assessment.String), &c.Assessment)
	}
	c.Stage = domain.LineageStage(stage)
	return &c, nil
}

func (r *SQLRepository) queryCases(ctx context.Context, query string, args ...any) ([]*domain.Case, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
