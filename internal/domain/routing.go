package domain

import "time"

// RoutingRule assigns flagged cases to a review queue via a CEL expression
// over scored-case variables. The expression must evaluate to bool; the
// first matching rule (highest priority first) wins.
type RoutingRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression, e.g. "sanctions_hit && blended_score >= 90.0"
	Expression string `json:"expression"`

	// Queue receives cases matching the expression.
	Queue string `json:"queue"`

	// Priority orders rule evaluation and tags routed cases; higher wins.
	Priority int `json:"priority"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DefaultQueue receives Review-action cases matched by no routing rule.
const DefaultQueue = "standard"

// RouteResult records the queue assignment for one case.
type RouteResult struct {
	CaseID   string `json:"caseId"`
	RuleID   string `json:"ruleId,omitempty"` // empty for the default queue
	Queue    string `json:"queue"`
	Priority int    `json:"priority"`
}
