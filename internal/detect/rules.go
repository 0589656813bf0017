package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-credit/kestrel/internal/domain"
)

// GroupRule is one built-in detection rule evaluated per account group.
// Rules are pure functions over the group snapshot: no I/O, no clock
// reads (the evaluation date arrives as asOf), no shared state. Rules
// never suppress each other.
type GroupRule struct {
	Name string
	Fn   func(g *domain.AccountGroup, cfg *domain.EngineConfig, asOf time.Time) []domain.Violation
}

// BuiltinGroupRules returns the fixed per-group rule battery.
func BuiltinGroupRules() []GroupRule {
	return []GroupRule{
		{Name: "status_conflict", Fn: ruleStatusConflict},
		{Name: "late_date_gap", Fn: ruleLateDateGap},
		{Name: "balance_variance", Fn: ruleBalanceVariance},
		{Name: "limit_variance", Fn: ruleLimitVariance},
		{Name: "type_conflict", Fn: ruleTypeConflict},
		{Name: "obsolescence", Fn: ruleObsolescence},
	}
}

// violationID derives a deterministic identifier from the violation's
// identifying content. Identical findings on identical snapshots must
// carry identical IDs (auditability requirement).
func violationID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func groupCreditor(g *domain.AccountGroup) string {
	for _, t := range g.Tradelines {
		if t.CreditorName != "" {
			return t.CreditorName
		}
	}
	return g.CreditorKey
}

// ruleStatusConflict flags mutually exclusive statuses reported for the
// same account. The exclusivity table is configuration, not inference;
// one violation per matched exclusion regardless of how many sources
// report each side.
func ruleStatusConflict(g *domain.AccountGroup, cfg *domain.EngineConfig, _ time.Time) []domain.Violation {
	present := make(map[domain.AccountStatus][]domain.SourceValue)
	for _, t := range g.Tradelines {
		if t.Status == domain.StatusUnmapped {
			continue
		}
		present[t.Status] = append(present[t.Status], domain.SourceValue{
			Source: t.Source,
			Value:  string(t.Status),
		})
	}

	var out []domain.Violation
	for _, excl := range cfg.StatusExclusions {
		a, okA := present[excl.A]
		b, okB := present[excl.B]
		if !okA || !okB {
			continue
		}
		values := append(append([]domain.SourceValue{}, a...), b...)
		sortSourceValues(values)
		out = append(out, domain.Violation{
			ID:           violationID("status", g.ID, string(excl.A), string(excl.B)),
			Kind:         domain.StatusConflict,
			Severity:     excl.Severity,
			GroupID:      g.ID,
			CreditorName: groupCreditor(g),
			Values:       values,
			Citations:    []string{domain.CitationAccuracy, domain.CitationFurnisher},
			Detail:       fmt.Sprintf("sources report mutually exclusive statuses %s and %s", excl.A, excl.B),
		})
	}
	return out
}

// monthsBetween returns the absolute calendar-month distance between
// two dates, ignoring the day of month.
func monthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if months < 0 {
		return -months
	}
	return months
}

// ruleLateDateGap compares last-late-payment dates across sources. The
// same delinquency can only have happened once; a wide spread means at
// least one source is re-aging the account.
// Gap >= the configured high threshold is HIGH (inclusive); any smaller
// non-zero gap is MEDIUM.
func ruleLateDateGap(g *domain.AccountGroup, cfg *domain.EngineConfig, _ time.Time) []domain.Violation {
	type dated struct {
		src  domain.Source
		date time.Time
	}
	var dates []dated
	distinct := make(map[string]bool)
	for _, t := range g.Tradelines {
		if t.LastLatePayment == nil {
			continue
		}
		d := *t.LastLatePayment
		dates = append(dates, dated{src: t.Source, date: d})
		distinct[d.Format("2006-01")] = true
	}
	if len(distinct) < 2 {
		return nil
	}

	maxGap := 0
	for i := 0; i < len(dates); i++ {
		for j := i + 1; j < len(dates); j++ {
			if gap := monthsBetween(dates[i].date, dates[j].date); gap > maxGap {
				maxGap = gap
			}
		}
	}
	if maxGap == 0 {
		return nil
	}

	severity := domain.SeverityMedium
	if maxGap >= cfg.LateGapHighMonths {
		severity = domain.SeverityHigh
	}

	values := make([]domain.SourceValue, len(dates))
	for i, d := range dates {
		values[i] = domain.SourceValue{Source: d.src, Value: d.date.Format("2006-01")}
	}
	sortSourceValues(values)

	return []domain.Violation{{
		ID:           violationID("lategap", g.ID),
		Kind:         domain.LateDateGap,
		Severity:     severity,
		GroupID:      g.ID,
		CreditorName: groupCreditor(g),
		Values:       values,
		Citations:    []string{domain.CitationAccuracy, domain.CitationFurnisher},
		Detail:       fmt.Sprintf("last-late-payment dates diverge by %d months across sources", maxGap),
	}}
}

func ruleBalanceVariance(g *domain.AccountGroup, cfg *domain.EngineConfig, _ time.Time) []domain.Violation {
	return varianceViolation(g, cfg, domain.BalanceVariance, "balance",
		func(t *domain.Tradeline) *float64 { return t.Balance })
}

func ruleLimitVariance(g *domain.AccountGroup, cfg *domain.EngineConfig, _ time.Time) []domain.Violation {
	return varianceViolation(g, cfg, domain.LimitVariance, "credit limit",
		func(t *domain.Tradeline) *float64 { return t.CreditLimit })
}

// varianceViolation computes (max-min)/max over the non-null values and
// flags it when it strictly exceeds the configured threshold. A zero
// maximum produces no violation and no error.
func varianceViolation(g *domain.AccountGroup, cfg *domain.EngineConfig, kind domain.ViolationKind, label string, pick func(*domain.Tradeline) *float64) []domain.Violation {
	var values []domain.SourceValue
	var min, max float64
	count := 0
	for i := range g.Tradelines {
		t := &g.Tradelines[i]
		v := pick(t)
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
		values = append(values, domain.SourceValue{Source: t.Source, Value: fmt.Sprintf("%.2f", *v)})
	}
	if count < 2 || max == 0 {
		return nil
	}

	variance := (max - min) / max
	if variance <= cfg.VarianceThreshold {
		return nil
	}
	sortSourceValues(values)

	return []domain.Violation{{
		ID:           violationID("variance", string(kind), g.ID),
		Kind:         kind,
		Severity:     domain.SeverityMedium,
		GroupID:      g.ID,
		CreditorName: groupCreditor(g),
		Values:       values,
		Citations:    []string{domain.CitationAccuracy, domain.CitationFurnisher},
		Detail:       fmt.Sprintf("%s varies %.1f%% across sources", label, variance*100),
	}}
}

// ruleTypeConflict flags disagreement on the coarse ownership category.
// Unmapped categories never count toward a conflict.
func ruleTypeConflict(g *domain.AccountGroup, _ *domain.EngineConfig, _ time.Time) []domain.Violation {
	present := make(map[domain.OwnershipType]bool)
	var values []domain.SourceValue
	for _, t := range g.Tradelines {
		if t.Ownership == "" || t.Ownership == domain.OwnershipUnmapped {
			continue
		}
		present[t.Ownership] = true
		values = append(values, domain.SourceValue{Source: t.Source, Value: string(t.Ownership)})
	}
	if len(present) <= 1 {
		return nil
	}
	sortSourceValues(values)

	return []domain.Violation{{
		ID:           violationID("type", g.ID),
		Kind:         domain.TypeConflict,
		Severity:     domain.SeverityHigh,
		GroupID:      g.ID,
		CreditorName: groupCreditor(g),
		Values:       values,
		Citations:    []string{domain.CitationAccuracy, domain.CitationFurnisher},
		Detail:       "sources disagree on account ownership category",
	}}
}

// ruleObsolescence checks negative information against its retention
// window, anchored on the date of first delinquency. Anchoring on
// charge-off or opened dates is a known furnisher failure mode, so a
// negative account with no first-delinquency date is itself flagged
// rather than silently re-anchored.
func ruleObsolescence(g *domain.AccountGroup, cfg *domain.EngineConfig, asOf time.Time) []domain.Violation {
	var out []domain.Violation
	for _, t := range g.Tradelines {
		if !t.Status.Negative() {
			continue
		}
		if t.FirstDelinquency == nil {
			out = append(out, domain.Violation{
				ID:           violationID("obsolete-anchor", g.ID, string(t.Source)),
				Kind:         domain.ObsoleteInfo,
				Severity:     domain.SeverityMedium,
				GroupID:      g.ID,
				CreditorName: groupCreditor(g),
				Values: []domain.SourceValue{
					{Source: t.Source, Value: string(t.Status)},
				},
				Citations: []string{domain.CitationObsolete, domain.CitationFurnisher},
				Detail:    "negative account reported without a first-delinquency date; obsolescence cannot be anchored",
			})
			continue
		}

		years, ok := cfg.RetentionYears[t.Retention]
		if !ok {
			years = cfg.RetentionYears[domain.RetentionGeneral]
		}
		expiry := t.FirstDelinquency.AddDate(years, 0, 0)
		if asOf.After(expiry) {
			out = append(out, domain.Violation{
				ID:           violationID("obsolete", g.ID, string(t.Source)),
				Kind:         domain.ObsoleteInfo,
				Severity:     domain.SeverityHigh,
				GroupID:      g.ID,
				CreditorName: groupCreditor(g),
				Values: []domain.SourceValue{
					{Source: t.Source, Value: t.FirstDelinquency.Format("2006-01-02")},
				},
				Citations: []string{domain.CitationObsolete},
				Detail: fmt.Sprintf("negative information older than the %d-year retention window (first delinquency %s)",
					years, t.FirstDelinquency.Format("2006-01-02")),
			})
		}
	}
	return out
}

// DetectDuplicates flags pairs of distinct account groups that represent
// the same debt reported twice, typically an original creditor and a
// collection agency both carrying the balance.
func DetectDuplicates(groups []domain.AccountGroup, cfg *domain.EngineConfig) []domain.Violation {
	var out []domain.Violation
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			a, b := &groups[i], &groups[j]
			if a.CreditorKey != b.CreditorKey {
				continue
			}
			if !balancesClose(a, b, cfg.DuplicateBalanceTolerance) {
				continue
			}
			if !openedClose(a, b, cfg.DuplicateOpenedToleranceDays) {
				continue
			}
			first, second := a.ID, b.ID
			if second < first {
				first, second = second, first
			}
			out = append(out, domain.Violation{
				ID:             violationID("duplicate", first, second),
				Kind:           domain.Duplicate,
				Severity:       domain.SeverityHigh,
				GroupID:        first,
				RelatedGroupID: second,
				CreditorName:   groupCreditor(a),
				Citations:      []string{domain.CitationAccuracy, domain.CitationFurnisher},
				Detail:         "two account groups appear to report the same underlying debt",
			})
		}
	}
	return out
}

func representativeBalance(g *domain.AccountGroup) (float64, bool) {
	for _, t := range g.Tradelines {
		if t.Balance != nil {
			return *t.Balance, true
		}
	}
	return 0, false
}

func balancesClose(a, b *domain.AccountGroup, tolerance float64) bool {
	ba, okA := representativeBalance(a)
	bb, okB := representativeBalance(b)
	if !okA || !okB {
		return false
	}
	max := ba
	if bb > max {
		max = bb
	}
	if max == 0 {
		return ba == bb
	}
	diff := ba - bb
	if diff < 0 {
		diff = -diff
	}
	return diff/max <= tolerance
}

func openedClose(a, b *domain.AccountGroup, toleranceDays int) bool {
	var da, db *time.Time
	for _, t := range a.Tradelines {
		if t.DateOpened != nil {
			da = t.DateOpened
			break
		}
	}
	for _, t := range b.Tradelines {
		if t.DateOpened != nil {
			db = t.DateOpened
			break
		}
	}
	if da == nil || db == nil {
		// Without dates the name+balance match still stands; a collection
		// tradeline frequently omits the open date entirely.
		return true
	}
	days := da.Sub(*db).Hours() / 24
	if days < 0 {
		days = -days
	}
	return days <= float64(toleranceDays)
}

// DetectIdentityMismatches compares per-source identity values. SSN
// disagreement is always CRITICAL, DOB HIGH, name/address MEDIUM. Names
// and addresses within the configured similarity threshold (suffix or
// formatting variants) do not trigger.
func DetectIdentityMismatches(id *domain.ConsumerIdentity, cfg *domain.EngineConfig) []domain.Violation {
	var out []domain.Violation

	if v := exactMismatch(id.SSNLast4, domain.FieldSSN, domain.SeverityCritical, "sources report different SSNs for one consumer"); v != nil {
		out = append(out, *v)
	}
	if v := exactMismatch(id.DOB, domain.FieldDOB, domain.SeverityHigh, "sources report different dates of birth"); v != nil {
		out = append(out, *v)
	}
	if v := fuzzyMismatch(id.Names, domain.FieldName, cfg.NameSimilarityThreshold, "sources report materially different names"); v != nil {
		out = append(out, *v)
	}
	if v := fuzzyMismatch(id.Addresses, domain.FieldAddress, cfg.NameSimilarityThreshold, "sources report materially different addresses"); v != nil {
		out = append(out, *v)
	}
	return out
}

func identityValues(m map[domain.Source]string) []domain.SourceValue {
	values := make([]domain.SourceValue, 0, len(m))
	for src, v := range m {
		if v == "" {
			continue
		}
		values = append(values, domain.SourceValue{Source: src, Value: v})
	}
	sortSourceValues(values)
	return values
}

func exactMismatch(m map[domain.Source]string, field domain.IdentityField, severity domain.Severity, detail string) *domain.Violation {
	values := identityValues(m)
	distinct := make(map[string]bool)
	for _, v := range values {
		distinct[v.Value] = true
	}
	if len(distinct) < 2 {
		return nil
	}
	return &domain.Violation{
		ID:        violationID("pii", string(field)),
		Kind:      domain.PIIMismatch,
		Severity:  severity,
		Field:     field,
		Values:    values,
		Citations: []string{domain.CitationAccuracy},
		Detail:    detail,
	}
}

func fuzzyMismatch(m map[domain.Source]string, field domain.IdentityField, threshold float64, detail string) *domain.Violation {
	values := identityValues(m)
	if len(values) < 2 {
		return nil
	}
	conflict := false
	for i := 0; i < len(values) && !conflict; i++ {
		for j := i + 1; j < len(values); j++ {
			if Similarity(values[i].Value, values[j].Value) < threshold {
				conflict = true
				break
			}
		}
	}
	if !conflict {
		return nil
	}
	return &domain.Violation{
		ID:        violationID("pii", string(field)),
		Kind:      domain.PIIMismatch,
		Severity:  domain.SeverityMedium,
		Field:     field,
		Values:    values,
		Citations: []string{domain.CitationAccuracy},
		Detail:    detail,
	}
}

// Similarity returns a normalized edit-distance similarity in [0,1]
// over case-folded, whitespace-collapsed strings.
func Similarity(a, b string) float64 {
	a = strings.Join(strings.Fields(strings.ToLower(a)), " ")
	b = strings.Join(strings.Fields(strings.ToLower(b)), " ")
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(prev[lb])/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func sortSourceValues(values []domain.SourceValue) {
	sort.Slice(values, func(i, j int) bool {
		if values[i].Source != values[j].Source {
			return values[i].Source < values[j].Source
		}
		return values[i].Value < values[j].Value
	})
}
