package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-credit/kestrel/internal/domain"
)

// CustomEngine evaluates operator-defined CEL rules against account
// groups, alongside the built-in battery. Expressions see a flattened
// view of the group (statuses, balances, gaps, variances) and must
// return bool; true emits one violation with the configured kind and
// severity.
type CustomEngine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.CustomRuleConfig
	Program cel.Program
}

// NewCustomEngine creates the CEL environment with the account-group
// activation variables.
func NewCustomEngine() (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("creditor", cel.StringType),
		cel.Variable("source_count", cel.IntType),
		cel.Variable("statuses", cel.ListType(cel.StringType)),
		cel.Variable("distinct_statuses", cel.IntType),
		cel.Variable("balances", cel.ListType(cel.DoubleType)),
		cel.Variable("balance_variance", cel.DoubleType),
		cel.Variable("limit_variance", cel.DoubleType),
		cel.Variable("late_gap_months", cel.IntType),
		cel.Variable("ownership_count", cel.IntType),
		cel.Variable("age_years", cel.DoubleType),
		cel.Variable("has_unmapped_status", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *CustomEngine) ValidateRule(cfg *domain.CustomRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *CustomEngine) LoadRule(cfg *domain.CustomRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}
	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *CustomEngine) LoadRules(configs []*domain.CustomRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones. Enables
// hot-reloading from the repository.
func (e *CustomEngine) ReloadRules(configs []*domain.CustomRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}
	e.compiledRules = newRules
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *CustomEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *CustomEngine) GetLoadedRules() []*domain.CustomRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.CustomRuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// EvaluateGroup evaluates all loaded custom rules against one group.
// Evaluation errors become diagnostics, never panics or aborts.
func (e *CustomEngine) EvaluateGroup(ctx context.Context, g *domain.AccountGroup, cfg *domain.EngineConfig, asOf time.Time) ([]domain.Violation, []domain.Diagnostic) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := groupActivation(g, cfg, asOf)

	var violations []domain.Violation
	var diags []domain.Diagnostic
	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			diags = append(diags, domain.Diagnostic{
				Stage:   "detect",
				Level:   domain.DiagError,
				Subject: g.ID,
				Message: fmt.Sprintf("custom rule %s failed: %v", rule.Config.ID, err),
			})
			continue
		}
		triggered, ok := out.(types.Bool)
		if !ok || !bool(triggered) {
			continue
		}

		detail := rule.Config.Detail
		if detail == "" {
			detail = rule.Config.Name
		}
		violations = append(violations, domain.Violation{
			ID:           violationID("custom", rule.Config.ID, g.ID),
			Kind:         domain.CustomRule,
			Severity:     rule.Config.Severity,
			GroupID:      g.ID,
			CreditorName: groupCreditor(g),
			Citations:    rule.Config.Citations,
			Detail:       detail,
		})
	}
	return violations, diags
}

// groupActivation flattens a group into the CEL variable set.
func groupActivation(g *domain.AccountGroup, cfg *domain.EngineConfig, asOf time.Time) map[string]any {
	statuses := make([]string, 0, len(g.Tradelines))
	distinct := make(map[domain.AccountStatus]bool)
	ownerships := make(map[domain.OwnershipType]bool)
	balances := make([]float64, 0, len(g.Tradelines))
	hasUnmapped := false

	var lateDates []time.Time
	var oldestDelinquency *time.Time

	for _, t := range g.Tradelines {
		statuses = append(statuses, string(t.Status))
		if t.Status == domain.StatusUnmapped {
			hasUnmapped = true
		} else {
			distinct[t.Status] = true
		}
		if t.Ownership != "" && t.Ownership != domain.OwnershipUnmapped {
			ownerships[t.Ownership] = true
		}
		if t.Balance != nil {
			balances = append(balances, *t.Balance)
		}
		if t.LastLatePayment != nil {
			lateDates = append(lateDates, *t.LastLatePayment)
		}
		if t.FirstDelinquency != nil {
			if oldestDelinquency == nil || t.FirstDelinquency.Before(*oldestDelinquency) {
				oldestDelinquency = t.FirstDelinquency
			}
		}
	}

	lateGap := 0
	for i := 0; i < len(lateDates); i++ {
		for j := i + 1; j < len(lateDates); j++ {
			if gap := monthsBetween(lateDates[i], lateDates[j]); gap > lateGap {
				lateGap = gap
			}
		}
	}

	ageYears := 0.0
	if oldestDelinquency != nil {
		ageYears = asOf.Sub(*oldestDelinquency).Hours() / 24 / 365.25
	}

	return map[string]any{
		"creditor":            groupCreditor(g),
		"source_count":        int64(g.SourceCount()),
		"statuses":            statuses,
		"distinct_statuses":   int64(len(distinct)),
		"balances":            balances,
		"balance_variance":    relativeVariance(g, func(t *domain.Tradeline) *float64 { return t.Balance }),
		"limit_variance":      relativeVariance(g, func(t *domain.Tradeline) *float64 { return t.CreditLimit }),
		"late_gap_months":     int64(lateGap),
		"ownership_count":     int64(len(ownerships)),
		"age_years":           ageYears,
		"has_unmapped_status": hasUnmapped,
	}
}

// relativeVariance computes (max-min)/max over non-null values, zero
// when fewer than two values or max is zero.
func relativeVariance(g *domain.AccountGroup, pick func(*domain.Tradeline) *float64) float64 {
	var min, max float64
	count := 0
	for i := range g.Tradelines {
		v := pick(&g.Tradelines[i])
		if v == nil {
			continue
		}
		if count == 0 || *v < min {
			min = *v
		}
		if count == 0 || *v > max {
			max = *v
		}
		count++
	}
	if count < 2 || max == 0 {
		return 0
	}
	return (max - min) / max
}

// Close cleans up the engine.
func (e *CustomEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *CustomEngine) compileRule(cfg *domain.CustomRuleConfig) (*CompiledRule, error) {
	if cfg.Severity == "" {
		return nil, fmt.Errorf("rule %s: severity is required", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}
