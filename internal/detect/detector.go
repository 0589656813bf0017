// Package detect runs the contradiction rule battery over linked
// account groups and the consumer identity snapshot.
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-credit/kestrel/internal/domain"
)

// Detector evaluates the built-in rule battery plus any loaded custom
// rules. Groups are independent, so detection fans out across them
// under a bounded worker pool.
type Detector struct {
	cfg        *domain.EngineConfig
	rules      []GroupRule
	custom     *CustomEngine
	maxWorkers int
}

// Option configures a Detector.
type Option func(*Detector)

// WithRules replaces the built-in rule battery. Used by tests to
// disable individual rules; rule independence means the remaining rules
// emit exactly what they would have anyway.
func WithRules(rules []GroupRule) Option {
	return func(d *Detector) { d.rules = rules }
}

// WithCustomEngine attaches an engine for operator-defined CEL rules.
func WithCustomEngine(ce *CustomEngine) Option {
	return func(d *Detector) { d.custom = ce }
}

// WithMaxWorkers bounds group-level parallelism.
func WithMaxWorkers(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxWorkers = n
		}
	}
}

// New creates a detector. The configuration is validated up front:
// a missing legal-threshold table is fatal, never silently defaulted.
func New(cfg *domain.EngineConfig, opts ...Option) (*Detector, error) {
	if cfg == nil {
		return nil, &domain.ConfigurationError{Field: "engine", Reason: "configuration is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:        cfg,
		rules:      BuiltinGroupRules(),
		maxWorkers: 10,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// groupOutcome collects one group's violations and diagnostics so the
// fan-out can merge results without interleaving.
type groupOutcome struct {
	violations  []domain.Violation
	diagnostics []domain.Diagnostic
}

// Run evaluates every rule against every account group with 2+ linked
// tradelines, plus identity and cross-group duplicate checks. Rule
// failures are isolated: a panicking rule yields a diagnostic and the
// remaining rules and groups still run. Output ordering is
// deterministic for a fixed input.
func (d *Detector) Run(ctx context.Context, identity *domain.ConsumerIdentity, groups []domain.AccountGroup, asOf time.Time) ([]domain.Violation, []domain.Diagnostic) {
	outcomes := make([]groupOutcome, len(groups))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxWorkers)

	for i := range groups {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[idx] = d.evaluateGroup(ctx, &groups[idx], asOf)
		}(i)
	}
	wg.Wait()

	var violations []domain.Violation
	var diagnostics []domain.Diagnostic
	for _, o := range outcomes {
		violations = append(violations, o.violations...)
		diagnostics = append(diagnostics, o.diagnostics...)
	}

	violations = append(violations, DetectIdentityMismatches(identity, d.cfg)...)
	violations = append(violations, DetectDuplicates(groups, d.cfg)...)

	sortViolations(violations)
	sortDiagnostics(diagnostics)
	return violations, diagnostics
}

// evaluateGroup runs each rule independently against one group.
func (d *Detector) evaluateGroup(ctx context.Context, g *domain.AccountGroup, asOf time.Time) groupOutcome {
	var out groupOutcome
	if len(g.Tradelines) < 2 {
		// Single-source groups have nothing to contradict; duplicate and
		// identity checks still see them at the case level.
		return out
	}

	for _, rule := range d.rules {
		violations, err := runIsolated(rule, g, d.cfg, asOf)
		if err != nil {
			out.diagnostics = append(out.diagnostics, domain.Diagnostic{
				Stage:   "detect",
				Level:   domain.DiagError,
				Subject: g.ID,
				Message: fmt.Sprintf("rule %s failed: %v", rule.Name, err),
			})
			continue
		}
		out.violations = append(out.violations, violations...)
	}

	if d.custom != nil {
		violations, diags := d.custom.EvaluateGroup(ctx, g, d.cfg, asOf)
		out.violations = append(out.violations, violations...)
		out.diagnostics = append(out.diagnostics, diags...)
	}

	return out
}

// runIsolated converts a rule panic into an error so one broken rule
// cannot take down the rest of the battery.
func runIsolated(rule GroupRule, g *domain.AccountGroup, cfg *domain.EngineConfig, asOf time.Time) (violations []domain.Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			violations = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rule.Fn(g, cfg, asOf), nil
}

func sortViolations(violations []domain.Violation) {
	sort.Slice(violations, func(i, j int) bool {
		a, b := &violations[i], &violations[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		if a.RelatedGroupID != b.RelatedGroupID {
			return a.RelatedGroupID < b.RelatedGroupID
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Detail < b.Detail
	})
}

func sortDiagnostics(diags []domain.Diagnostic) {
	sort.Slice(diags, func(i, j int) bool {
		a, b := &diags[i], &diags[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Message < b.Message
	})
}
