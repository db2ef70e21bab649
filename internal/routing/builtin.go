package routing

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns the default routing rules seeded for a new tenant.
// Tenants override these via the routing rule API.
func BuiltinRules() []*domain.RoutingRule {
	return []*domain.RoutingRule{
		{
			ID:          "builtin-sanctions",
			Name:        "sanctions-escalation",
			Description: "Sanctions hits go straight to the escalation queue",
			Expression:  "sanctions_hit",
			Queue:       "escalation",
			Priority:    100,
			Enabled:     true,
		},
		{
			ID:          "builtin-pep",
			Name:        "pep-enhanced-dd",
			Description: "Politically exposed persons require enhanced due diligence",
			Expression:  "pep_flag && blended_score >= 80.0",
			Queue:       "enhanced-dd",
			Priority:    90,
			Enabled:     true,
		},
		{
			ID:          "builtin-high-value",
			Name:        "high-value",
			Description: "Large transactions route to the senior review queue",
			Expression:  "amount >= 10000.0",
			Queue:       "senior-review",
			Priority:    50,
			Enabled:     true,
		},
	}
}
