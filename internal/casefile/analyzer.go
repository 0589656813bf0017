// Package casefile runs the full analysis pipeline and composes the
// immutable case result: normalize, link, detect, score, estimate.
package casefile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-credit/kestrel/internal/damages"
	"github.com/opensource-credit/kestrel/internal/detect"
	"github.com/opensource-credit/kestrel/internal/domain"
	"github.com/opensource-credit/kestrel/internal/linkage"
	"github.com/opensource-credit/kestrel/internal/normalize"
	"github.com/opensource-credit/kestrel/internal/standing"
	"github.com/opensource-credit/kestrel/internal/willfulness"
)

// EngineVersion tags every result with the engine that produced it.
const EngineVersion = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-casefile")

// Analyzer is the composition root of the engine. It is stateless
// between runs: each analysis is a pure function of the snapshot and
// the engine configuration, so concurrent runs never interact.
type Analyzer struct {
	cfg        *domain.EngineConfig
	normalizer *normalize.Normalizer
	detector   *detect.Detector
	clock      func() time.Time
}

// Option configures an Analyzer.
type Option func(*analyzerOpts)

type analyzerOpts struct {
	clock      func() time.Time
	custom     *detect.CustomEngine
	vocab      *normalize.Vocabulary
	maxWorkers int
}

// WithClock overrides the clock used for result timestamps. Tests pin
// it to make results byte-for-byte reproducible.
func WithClock(clock func() time.Time) Option {
	return func(o *analyzerOpts) { o.clock = clock }
}

// WithCustomEngine attaches operator-defined CEL detection rules.
func WithCustomEngine(ce *detect.CustomEngine) Option {
	return func(o *analyzerOpts) { o.custom = ce }
}

// WithVocabulary overrides the normalization vocabulary.
func WithVocabulary(v normalize.Vocabulary) Option {
	return func(o *analyzerOpts) { o.vocab = &v }
}

// WithMaxWorkers bounds detection parallelism.
func WithMaxWorkers(n int) Option {
	return func(o *analyzerOpts) { o.maxWorkers = n }
}

// NewAnalyzer validates the engine configuration and wires the pipeline.
func NewAnalyzer(cfg *domain.EngineConfig, opts ...Option) (*Analyzer, error) {
	o := &analyzerOpts{clock: time.Now, maxWorkers: 10}
	for _, opt := range opts {
		opt(o)
	}

	vocab := normalize.DefaultVocabulary()
	if o.vocab != nil {
		vocab = *o.vocab
	}

	detectOpts := []detect.Option{detect.WithMaxWorkers(o.maxWorkers)}
	if o.custom != nil {
		detectOpts = append(detectOpts, detect.WithCustomEngine(o.custom))
	}
	detector, err := detect.New(cfg, detectOpts...)
	if err != nil {
		return nil, err
	}

	return &Analyzer{
		cfg:        cfg,
		normalizer: normalize.New(vocab),
		detector:   detector,
		clock:      o.clock,
	}, nil
}

// Fingerprint derives the deterministic identity of one analysis: a
// hash of the snapshot content and the engine configuration. Identical
// inputs produce identical fingerprints, which doubles as the result ID
// and the memoization key.
func Fingerprint(snap *domain.CaseSnapshot, cfg *domain.EngineConfig) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(snap)
	_ = enc.Encode(cfg)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Analyze runs the forward pipeline over one atomic snapshot and
// returns a new immutable CaseResult. The input snapshot is never
// mutated; re-running on the same snapshot produces an identical
// result apart from GeneratedAt.
func (a *Analyzer) Analyze(ctx context.Context, snap *domain.CaseSnapshot) (*domain.CaseResult, error) {
	if snap == nil {
		return nil, errors.New("casefile: snapshot is required")
	}
	ctx, span := tracer.Start(ctx, "case.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("case.snapshot_id", snap.ID),
		attribute.Int("case.tradelines", len(snap.Tradelines)),
	)

	asOf := snap.CreatedAt
	if asOf.IsZero() {
		// The evaluation date is part of the snapshot so obsolescence is
		// reproducible; pin it here if the caller did not.
		asOf = a.clock().UTC()
		snapCopy := *snap
		snapCopy.CreatedAt = asOf
		snap = &snapCopy
	}

	var diagnostics []domain.Diagnostic

	// 1. Normalize.
	normalized, normErrs := a.normalizer.Snapshot(snap)
	for _, err := range normErrs {
		var nerr *normalize.NormalizationError
		if errors.As(err, &nerr) {
			diagnostics = append(diagnostics, domain.Diagnostic{
				Stage:   "normalize",
				Level:   domain.DiagWarning,
				Subject: string(nerr.Source),
				Message: nerr.Error(),
			})
		} else {
			diagnostics = append(diagnostics, domain.Diagnostic{
				Stage: "normalize", Level: domain.DiagWarning, Message: err.Error(),
			})
		}
	}

	// 2. Link tradelines into account groups.
	groups, ambiguities := linkage.GroupTradelines(normalized.Tradelines, a.cfg.LinkageOpenedWindowDays)
	for _, amb := range ambiguities {
		diagnostics = append(diagnostics, domain.Diagnostic{
			Stage:   "linkage",
			Level:   domain.DiagError,
			Subject: amb.CreditorKey + ":" + amb.AccountLast4,
			Message: amb.Error(),
		})
	}

	// 3. Contradiction detection, parallel across groups.
	violations, detectDiags := a.detector.Run(ctx, &normalized.Identity, groups, asOf)
	diagnostics = append(diagnostics, detectDiags...)

	// 4. Standing and willfulness read disjoint evidence; run them
	// concurrently.
	var (
		wg             sync.WaitGroup
		standingResult domain.StandingResult
		standingDiags  []domain.Diagnostic
		willfulResult  domain.WillfulnessResult
		willfulDiags   []domain.Diagnostic
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		merged := standing.Merge(normalized.Standing, standing.DeriveFromViolations(violations))
		standingResult, standingDiags = standing.Evaluate(merged)
	}()
	go func() {
		defer wg.Done()
		merged := willfulness.Merge(normalized.Willfulness, willfulness.DeriveFromViolations(violations))
		willfulResult, willfulDiags = willfulness.Evaluate(merged, a.cfg)
	}()
	wg.Wait()
	diagnostics = append(diagnostics, standingDiags...)
	diagnostics = append(diagnostics, willfulDiags...)

	// 5. Damages.
	partyCounts := make(map[string]int)
	for i := range violations {
		for _, party := range violations[i].ResponsibleParties() {
			partyCounts[party]++
		}
	}
	var actualTotal float64
	for _, harm := range normalized.ActualHarm {
		actualTotal += harm.Amount
	}
	rows, totals := damages.Estimate(damages.Input{
		PartyCounts: partyCounts,
		TotalCount:  len(violations),
		Willfulness: willfulResult.Verdict,
		ActualHarm:  actualTotal,
	}, a.cfg)

	// 6. Compose. Completeness means no ambiguity and no flagged gaps;
	// consumers must be able to tell a degraded analysis apart from an
	// authoritative one.
	result := &domain.CaseResult{
		ID:            Fingerprint(snap, a.cfg),
		SnapshotID:    snap.ID,
		TenantID:      snap.TenantID,
		Groups:        groups,
		Violations:    violations,
		Standing:      standingResult,
		Willfulness:   willfulResult,
		Damages:       rows,
		TotalExposure: totals,
		Diagnostics:   diagnostics,
		Complete:      len(diagnostics) == 0,
		EngineVersion: EngineVersion,
		GeneratedAt:   a.clock().UTC(),
	}

	span.SetAttributes(
		attribute.Int("case.violations", len(result.Violations)),
		attribute.String("case.standing", string(result.Standing.Verdict)),
		attribute.String("case.willfulness", string(result.Willfulness.Verdict)),
		attribute.Bool("case.complete", result.Complete),
	)

	return result, nil
}

// ShouldAlert reports whether a result warrants the alert topic:
// critical violations or strong standing make the case actionable.
func ShouldAlert(result *domain.CaseResult) bool {
	return result.HasCritical() || result.Standing.Verdict == domain.StandingStrong
}

// Summary renders the one-line log description of a result.
func Summary(result *domain.CaseResult) string {
	return fmt.Sprintf("%d violations, standing %s (%.1f), willfulness %s (%.0f%%)",
		len(result.Violations),
		result.Standing.Verdict, result.Standing.Composite,
		result.Willfulness.Verdict, result.Willfulness.Percent,
	)
}
