package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    case_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(tenant_id, created_at);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    raw_fields TEXT NOT NULL,
    extra_fields TEXT,
    verification TEXT,
    assessment TEXT,
    stage TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_cases_tenant ON cases(tenant_id);
CREATE INDEX IF NOT EXISTS idx_cases_run ON cases(tenant_id, run_id);
CREATE INDEX IF NOT EXISTS idx_cases_stage ON cases(tenant_id, stage);
`

// The feedback table is the editable training input; every save replaces
// the tenant's full set. The review_log table is the append-only audit
// trail. They are independent persistence paths.
const schemaFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    case_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    ai_action TEXT NOT NULL,
    human_decision TEXT NOT NULL,
    human_notes TEXT,
    saved_at TIMESTAMP NOT NULL,
    PRIMARY KEY (case_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_feedback_tenant ON feedback(tenant_id);
`

const schemaReviewLog = `
CREATE TABLE IF NOT EXISTS review_log (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    analyst TEXT NOT NULL,
    decision TEXT NOT NULL,
    notes TEXT,
    logged_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_log_tenant ON review_log(tenant_id);
CREATE INDEX IF NOT EXISTS idx_review_log_case ON review_log(tenant_id, case_id);
`

const schemaRoutingRules = `
CREATE TABLE IF NOT EXISTS routing_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    queue TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_routing_rules_tenant ON routing_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_routing_rules_enabled ON routing_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaCases,
		schemaFeedback,
		schemaReviewLog,
		schemaRoutingRules,
	}
}
