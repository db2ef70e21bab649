// Package routing provides the CEL-Go based review queue router. Scored
// cases with a Review action are matched against tenant-configured rules;
// the first matching rule (highest priority first) assigns the queue.
package routing

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates routing rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules []*compiledRule
}

type compiledRule struct {
	rule    *domain.RoutingRule
	program cel.Program
}

// NewEngine creates a routing engine with the scored-case variable set.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("blended_score", cel.DoubleType),
		cel.Variable("heuristic_score", cel.DoubleType),
		cel.Variable("model_score", cel.DoubleType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("nationality", cel.StringType),
		cel.Variable("pep_flag", cel.BoolType),
		cel.Variable("sanctions_hit", cel.BoolType),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.RoutingRule) error {
	if rule == nil {
		return fmt.Errorf("routing rule is required")
	}
	_, err := e.compile(rule)
	return err
}

// ReloadRules replaces the loaded rule set. Disabled rules are skipped;
// loaded rules are kept sorted by priority, highest first.
func (e *Engine) ReloadRules(rules []*domain.RoutingRule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		c, err := e.compile(rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority > compiled[j].rule.Priority
	})

	e.mu.Lock()
	e.compiledRules = compiled
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Route assigns a scored case to a review queue. Cases without a Review
// action are not routed. Rules that fail to evaluate are skipped rather
// than failing the case.
func (e *Engine) Route(c *domain.Case) *domain.RouteResult {
	if c.Assessment == nil || c.Assessment.Action != domain.ActionReview {
		return nil
	}

	activation := activationFor(c)

	e.mu.RLock()
	rules := e.compiledRules
	e.mu.RUnlock()

	for _, cr := range rules {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			return &domain.RouteResult{
				CaseID:   c.ID,
				RuleID:   cr.rule.ID,
				Queue:    cr.rule.Queue,
				Priority: cr.rule.Priority,
			}
		}
	}
	return &domain.RouteResult{CaseID: c.ID, Queue: domain.DefaultQueue}
}

// RouteAll routes every Review case in the batch and writes the queue
// assignment back onto each case's assessment.
func (e *Engine) RouteAll(cases []*domain.Case) []*domain.RouteResult {
	var results []*domain.RouteResult
	for _, c := range cases {
		result := e.Route(c)
		if result == nil {
			continue
		}
		c.Assessment.Queue = result.Queue
		c.Assessment.Priority = result.Priority
		results = append(results, result)
	}
	return results
}

func activationFor(c *domain.Case) map[string]any {
	a := c.Assessment
	modelScore := 0.0
	if a.ModelScore != nil {
		modelScore = *a.ModelScore
	}
	return map[string]any{
		"blended_score":   a.BlendedScore,
		"heuristic_score": a.HeuristicScore,
		"model_score":     modelScore,
		"risk_score":      fieldFloat(c, domain.FieldRiskScore),
		"amount":          fieldFloat(c, domain.FieldAmount),
		"channel":         c.RawFields[domain.FieldChannel],
		"nationality":     c.RawFields[domain.FieldNationality],
		"pep_flag":        c.Verification != nil && c.Verification.PEPFlag,
		"sanctions_hit":   c.Verification != nil && c.Verification.SanctionsHit,
		"action":          a.Action,
	}
}

func fieldFloat(c *domain.Case, field string) float64 {
	v, err := strconv.ParseFloat(c.RawFields[field], 64)
	if err != nil {
		return 0
	}
	return v
}

func (e *Engine) compile(rule *domain.RoutingRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.Name, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.Name, err)
	}
	return &compiledRule{rule: rule, program: program}, nil
}
