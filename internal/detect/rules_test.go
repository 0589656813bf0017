package detect

import (
	"testing"
	"time"

	"github.com/opensource-credit/kestrel/internal/domain"
)

func fptr(v float64) *float64 { return &v }

func dateOf(s string) *time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &d
}

func group(id string, tradelines ...domain.Tradeline) domain.AccountGroup {
	return domain.AccountGroup{
		ID:           id,
		CreditorKey:  "chase bank",
		AccountLast4: "1234",
		Tradelines:   tradelines,
	}
}

var asOf = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestRuleStatusConflict(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("OpenVsPaid", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusOpen},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusPaid},
		)
		out := ruleStatusConflict(&g, cfg, asOf)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation, got %d", len(out))
		}
		v := out[0]
		if v.Kind != domain.StatusConflict || v.Severity != domain.SeverityCritical {
			t.Errorf("unexpected violation %s/%s", v.Kind, v.Severity)
		}
		if len(v.Values) != 2 {
			t.Errorf("expected both source values, got %d", len(v.Values))
		}
	})

	t.Run("OnePerExclusionRegardlessOfSourceCount", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusOpen},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusOpen},
			domain.Tradeline{Source: domain.SourceTransUnion, Status: domain.StatusPaid},
		)
		out := ruleStatusConflict(&g, cfg, asOf)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation for one exclusion, got %d", len(out))
		}
		if len(out[0].Values) != 3 {
			t.Errorf("expected all 3 source values as evidence, got %d", len(out[0].Values))
		}
	})

	t.Run("Agreement", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusOpen},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusOpen},
		)
		if out := ruleStatusConflict(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("agreeing statuses must not violate, got %d", len(out))
		}
	})

	t.Run("NonExclusivePair", func(t *testing.T) {
		// open vs late is not in the exclusivity table.
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusOpen},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusLate},
		)
		if out := ruleStatusConflict(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("pair outside the table must not violate, got %d", len(out))
		}
	})

	t.Run("UnmappedNeverConflicts", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusOpen},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusUnmapped},
		)
		if out := ruleStatusConflict(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("unmapped status must not conflict, got %d", len(out))
		}
	})

	t.Run("DeterministicID", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusOpen},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusPaid},
		)
		a := ruleStatusConflict(&g, cfg, asOf)
		b := ruleStatusConflict(&g, cfg, asOf)
		if a[0].ID != b[0].ID {
			t.Errorf("IDs differ across runs: %s vs %s", a[0].ID, b[0].ID)
		}
	})
}

func TestMonthsBetween(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"2020-01-15", "2020-01-28", 0},
		{"2020-01-15", "2020-04-01", 3},
		{"2021-03-01", "2020-01-01", 14},
		{"2019-12-31", "2020-01-01", 1},
	}

	for _, tt := range tests {
		got := monthsBetween(*dateOf(tt.a), *dateOf(tt.b))
		if got != tt.expected {
			t.Errorf("monthsBetween(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestRuleLateDateGap(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("WideGapIsHigh", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, LastLatePayment: dateOf("2019-01-15")},
			domain.Tradeline{Source: domain.SourceExperian, LastLatePayment: dateOf("2020-03-01")},
		)
		out := ruleLateDateGap(&g, cfg, asOf)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation, got %d", len(out))
		}
		if out[0].Kind != domain.LateDateGap || out[0].Severity != domain.SeverityHigh {
			t.Errorf("expected HIGH late date gap, got %s/%s", out[0].Kind, out[0].Severity)
		}
	})

	t.Run("ThresholdGapInclusive", func(t *testing.T) {
		// Exactly 12 months apart: HIGH, the threshold is inclusive.
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, LastLatePayment: dateOf("2019-01-15")},
			domain.Tradeline{Source: domain.SourceExperian, LastLatePayment: dateOf("2020-01-20")},
		)
		out := ruleLateDateGap(&g, cfg, asOf)
		if len(out) != 1 || out[0].Severity != domain.SeverityHigh {
			t.Fatalf("expected HIGH at exactly the threshold, got %v", out)
		}
	})

	t.Run("NarrowGapIsMedium", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, LastLatePayment: dateOf("2019-01-15")},
			domain.Tradeline{Source: domain.SourceExperian, LastLatePayment: dateOf("2019-04-01")},
		)
		out := ruleLateDateGap(&g, cfg, asOf)
		if len(out) != 1 || out[0].Severity != domain.SeverityMedium {
			t.Fatalf("expected MEDIUM for a 3-month gap, got %v", out)
		}
	})

	t.Run("SameMonthDifferentDay", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, LastLatePayment: dateOf("2019-01-05")},
			domain.Tradeline{Source: domain.SourceExperian, LastLatePayment: dateOf("2019-01-28")},
		)
		if out := ruleLateDateGap(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("same calendar month must not violate, got %d", len(out))
		}
	})

	t.Run("SingleDate", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, LastLatePayment: dateOf("2019-01-05")},
			domain.Tradeline{Source: domain.SourceExperian},
		)
		if out := ruleLateDateGap(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("one reported date has nothing to diverge from, got %d", len(out))
		}
	})
}

func TestVarianceRules(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("BalanceAboveThreshold", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Balance: fptr(10000)},
			domain.Tradeline{Source: domain.SourceExperian, Balance: fptr(8500)},
		)
		out := ruleBalanceVariance(&g, cfg, asOf)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation, got %d", len(out))
		}
		if out[0].Kind != domain.BalanceVariance || out[0].Severity != domain.SeverityMedium {
			t.Errorf("unexpected violation %s/%s", out[0].Kind, out[0].Severity)
		}
	})

	t.Run("ExactlyAtThresholdPasses", func(t *testing.T) {
		// (10000-9000)/10000 = 0.10 exactly; the threshold is exclusive.
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Balance: fptr(10000)},
			domain.Tradeline{Source: domain.SourceExperian, Balance: fptr(9000)},
		)
		if out := ruleBalanceVariance(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("variance equal to the threshold must pass, got %d", len(out))
		}
	})

	t.Run("ZeroMaxIsSafe", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Balance: fptr(0)},
			domain.Tradeline{Source: domain.SourceExperian, Balance: fptr(0)},
		)
		if out := ruleBalanceVariance(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("all-zero balances must not violate, got %d", len(out))
		}
	})

	t.Run("NilValuesSkipped", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Balance: fptr(10000)},
			domain.Tradeline{Source: domain.SourceExperian},
		)
		if out := ruleBalanceVariance(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("a single reported balance must not violate, got %d", len(out))
		}
	})

	t.Run("CreditLimit", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, CreditLimit: fptr(5000)},
			domain.Tradeline{Source: domain.SourceTransUnion, CreditLimit: fptr(3000)},
		)
		out := ruleLimitVariance(&g, cfg, asOf)
		if len(out) != 1 || out[0].Kind != domain.LimitVariance {
			t.Fatalf("expected 1 limit variance violation, got %v", out)
		}
	})
}

func TestRuleTypeConflict(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("IndividualVsAuthorizedUser", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Ownership: domain.OwnershipIndividual},
			domain.Tradeline{Source: domain.SourceExperian, Ownership: domain.OwnershipAuthorizedUser},
		)
		out := ruleTypeConflict(&g, cfg, asOf)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation, got %d", len(out))
		}
		if out[0].Kind != domain.TypeConflict || out[0].Severity != domain.SeverityHigh {
			t.Errorf("unexpected violation %s/%s", out[0].Kind, out[0].Severity)
		}
	})

	t.Run("UnmappedIgnored", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Ownership: domain.OwnershipIndividual},
			domain.Tradeline{Source: domain.SourceExperian, Ownership: domain.OwnershipUnmapped},
		)
		if out := ruleTypeConflict(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("unmapped ownership must not count toward a conflict, got %d", len(out))
		}
	})
}

func TestRuleObsolescence(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("BeyondRetentionWindow", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{
				Source:           domain.SourceEquifax,
				Status:           domain.StatusChargedOff,
				FirstDelinquency: dateOf("2017-01-01"),
				Retention:        domain.RetentionGeneral,
			},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusOpen},
		)
		out := ruleObsolescence(&g, cfg, asOf)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation, got %d", len(out))
		}
		if out[0].Kind != domain.ObsoleteInfo || out[0].Severity != domain.SeverityHigh {
			t.Errorf("unexpected violation %s/%s", out[0].Kind, out[0].Severity)
		}
	})

	t.Run("WithinRetentionWindow", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{
				Source:           domain.SourceEquifax,
				Status:           domain.StatusCollection,
				FirstDelinquency: dateOf("2020-01-01"),
				Retention:        domain.RetentionGeneral,
			},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusOpen},
		)
		if out := ruleObsolescence(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("5-year-old negative within a 7-year window must pass, got %d", len(out))
		}
	})

	t.Run("BankruptcyWindow", func(t *testing.T) {
		// 8 years old: expired under general (7y) but not bankruptcy (10y).
		g := group("g1",
			domain.Tradeline{
				Source:           domain.SourceEquifax,
				Status:           domain.StatusChargedOff,
				FirstDelinquency: dateOf("2017-03-01"),
				Retention:        domain.RetentionBankruptcy7,
			},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusOpen},
		)
		if out := ruleObsolescence(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("bankruptcy retention class must use the 10-year window, got %d", len(out))
		}
	})

	t.Run("MissingAnchorIsItsOwnViolation", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusCollection},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusOpen},
		)
		out := ruleObsolescence(&g, cfg, asOf)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation for the missing anchor, got %d", len(out))
		}
		if out[0].Severity != domain.SeverityMedium {
			t.Errorf("missing anchor is MEDIUM, got %s", out[0].Severity)
		}
	})

	t.Run("PositiveStatusIgnored", func(t *testing.T) {
		g := group("g1",
			domain.Tradeline{Source: domain.SourceEquifax, Status: domain.StatusPaid},
			domain.Tradeline{Source: domain.SourceExperian, Status: domain.StatusClosed},
		)
		if out := ruleObsolescence(&g, cfg, asOf); len(out) != 0 {
			t.Errorf("positive statuses are exempt from retention, got %d", len(out))
		}
	})
}

func TestDetectDuplicates(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	base := func() []domain.AccountGroup {
		return []domain.AccountGroup{
			{
				ID: "grp:midland:1111:1", CreditorKey: "midland credit", AccountLast4: "1111",
				Tradelines: []domain.Tradeline{
					{Source: domain.SourceEquifax, Balance: fptr(2400), DateOpened: dateOf("2021-01-10")},
				},
			},
			{
				ID: "grp:midland:2222:1", CreditorKey: "midland credit", AccountLast4: "2222",
				Tradelines: []domain.Tradeline{
					{Source: domain.SourceEquifax, Balance: fptr(2450), DateOpened: dateOf("2021-02-15")},
				},
			},
		}
	}

	t.Run("SameDebtTwice", func(t *testing.T) {
		out := DetectDuplicates(base(), cfg)
		if len(out) != 1 {
			t.Fatalf("expected 1 duplicate violation, got %d", len(out))
		}
		v := out[0]
		if v.Kind != domain.Duplicate || v.Severity != domain.SeverityHigh {
			t.Errorf("unexpected violation %s/%s", v.Kind, v.Severity)
		}
		if v.GroupID != "grp:midland:1111:1" || v.RelatedGroupID != "grp:midland:2222:1" {
			t.Errorf("expected ordered group pair, got %s/%s", v.GroupID, v.RelatedGroupID)
		}
	})

	t.Run("BalanceOutsideTolerance", func(t *testing.T) {
		groups := base()
		groups[1].Tradelines[0].Balance = fptr(4800)
		if out := DetectDuplicates(groups, cfg); len(out) != 0 {
			t.Errorf("balances 2x apart are not the same debt, got %d", len(out))
		}
	})

	t.Run("OpenedOutsideTolerance", func(t *testing.T) {
		groups := base()
		groups[1].Tradelines[0].DateOpened = dateOf("2022-06-01")
		if out := DetectDuplicates(groups, cfg); len(out) != 0 {
			t.Errorf("open dates over a year apart must not match, got %d", len(out))
		}
	})

	t.Run("MissingOpenDateStillMatches", func(t *testing.T) {
		groups := base()
		groups[1].Tradelines[0].DateOpened = nil
		if out := DetectDuplicates(groups, cfg); len(out) != 1 {
			t.Errorf("collection tradelines often omit open dates, got %d", len(out))
		}
	})

	t.Run("DifferentCreditors", func(t *testing.T) {
		groups := base()
		groups[1].CreditorKey = "portfolio recovery"
		if out := DetectDuplicates(groups, cfg); len(out) != 0 {
			t.Errorf("different creditor keys must not match, got %d", len(out))
		}
	})
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"John Smith", "john smith", 1, 1},
		{"John  Smith", "John Smith", 1, 1},
		{"John Smith", "Jon Smith", 0.85, 1},
		{"John Smith", "Jane Doe", 0, 0.5},
		{"", "anything", 0, 0},
	}

	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("Similarity(%q, %q) = %.3f, want within [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestDetectIdentityMismatches(t *testing.T) {
	cfg := domain.DefaultEngineConfig()

	t.Run("SSNMismatchIsCritical", func(t *testing.T) {
		id := &domain.ConsumerIdentity{
			SSNLast4: map[domain.Source]string{
				domain.SourceEquifax:  "1234",
				domain.SourceExperian: "4321",
			},
		}
		out := DetectIdentityMismatches(id, cfg)
		if len(out) != 1 {
			t.Fatalf("expected 1 violation, got %d", len(out))
		}
		v := out[0]
		if v.Kind != domain.PIIMismatch || v.Severity != domain.SeverityCritical || v.Field != domain.FieldSSN {
			t.Errorf("unexpected violation %s/%s/%s", v.Kind, v.Severity, v.Field)
		}
	})

	t.Run("DOBMismatchIsHigh", func(t *testing.T) {
		id := &domain.ConsumerIdentity{
			DOB: map[domain.Source]string{
				domain.SourceEquifax:  "1980-04-12",
				domain.SourceExperian: "1980-04-21",
			},
		}
		out := DetectIdentityMismatches(id, cfg)
		if len(out) != 1 || out[0].Severity != domain.SeverityHigh || out[0].Field != domain.FieldDOB {
			t.Fatalf("expected HIGH dob mismatch, got %v", out)
		}
	})

	t.Run("NameSuffixVariantTolerated", func(t *testing.T) {
		id := &domain.ConsumerIdentity{
			Names: map[domain.Source]string{
				domain.SourceEquifax:    "John Q Smith",
				domain.SourceExperian:   "John Q Smith",
				domain.SourceTransUnion: "JOHN Q SMITH",
			},
		}
		if out := DetectIdentityMismatches(id, cfg); len(out) != 0 {
			t.Errorf("case variants are the same name, got %d", len(out))
		}
	})

	t.Run("MateriallyDifferentName", func(t *testing.T) {
		id := &domain.ConsumerIdentity{
			Names: map[domain.Source]string{
				domain.SourceEquifax:  "John Q Smith",
				domain.SourceExperian: "Robert Johnson",
			},
		}
		out := DetectIdentityMismatches(id, cfg)
		if len(out) != 1 || out[0].Severity != domain.SeverityMedium || out[0].Field != domain.FieldName {
			t.Fatalf("expected MEDIUM name mismatch, got %v", out)
		}
	})

	t.Run("SingleSourceNeverMismatches", func(t *testing.T) {
		id := &domain.ConsumerIdentity{
			SSNLast4: map[domain.Source]string{domain.SourceEquifax: "1234"},
			Names:    map[domain.Source]string{domain.SourceEquifax: "John Q Smith"},
		}
		if out := DetectIdentityMismatches(id, cfg); len(out) != 0 {
			t.Errorf("one source cannot disagree with itself, got %d", len(out))
		}
	})
}

func TestResponsibleParties(t *testing.T) {
	v := domain.Violation{
		CreditorName: "Chase Bank",
		Values: []domain.SourceValue{
			{Source: domain.SourceEquifax, Value: "open"},
			{Source: domain.SourceEquifax, Value: "open"},
			{Source: domain.SourceExperian, Value: "paid"},
		},
	}
	parties := v.ResponsibleParties()
	if len(parties) != 3 {
		t.Fatalf("expected 3 parties (2 sources + furnisher), got %d: %v", len(parties), parties)
	}
}
