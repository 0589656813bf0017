package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-credit/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testSnapshot(id string) *domain.CaseSnapshot {
	balance := 2400.0
	return &domain.CaseSnapshot{
		ID:       id,
		TenantID: "tenant-001",
		Identity: domain.ConsumerIdentity{
			Names: map[domain.Source]string{domain.SourceEquifax: "John Q Smith"},
		},
		Tradelines: []domain.Tradeline{
			{
				Source:       domain.SourceEquifax,
				CreditorName: "Chase Bank",
				Status:       domain.StatusOpen,
				Balance:      &balance,
			},
		},
		Standing: domain.StandingEvidence{
			Elements: map[domain.StandingElement]domain.ElementEvidence{
				domain.ElementConcreteHarm: {Score: 7, Supplied: true},
			},
		},
		ActualHarm: []domain.ActualHarm{{Amount: 1200, Description: "denied refinance"}},
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetSnapshot", func(t *testing.T) {
		snap := testSnapshot("snap-001")
		if err := repo.SaveSnapshot(ctx, tenantID, snap); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}

		retrieved, err := repo.GetSnapshot(ctx, tenantID, "snap-001")
		if err != nil {
			t.Fatalf("GetSnapshot failed: %v", err)
		}
		if retrieved.ID != snap.ID {
			t.Errorf("expected ID %s, got %s", snap.ID, retrieved.ID)
		}
		if len(retrieved.Tradelines) != 1 {
			t.Fatalf("expected 1 tradeline, got %d", len(retrieved.Tradelines))
		}
		if retrieved.Tradelines[0].CreditorName != "Chase Bank" {
			t.Errorf("unexpected creditor %q", retrieved.Tradelines[0].CreditorName)
		}
		if retrieved.Identity.Names[domain.SourceEquifax] != "John Q Smith" {
			t.Errorf("identity lost in round trip: %v", retrieved.Identity)
		}
		if got := retrieved.Standing.Elements[domain.ElementConcreteHarm].Score; got != 7 {
			t.Errorf("standing evidence lost in round trip: %.1f", got)
		}
		if len(retrieved.ActualHarm) != 1 || retrieved.ActualHarm[0].Amount != 1200 {
			t.Errorf("actual harm lost in round trip: %v", retrieved.ActualHarm)
		}
	})

	t.Run("SnapshotUpsert", func(t *testing.T) {
		snap := testSnapshot("snap-001")
		snap.Tradelines[0].CreditorName = "Capital One"
		if err := repo.SaveSnapshot(ctx, tenantID, snap); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}

		retrieved, err := repo.GetSnapshot(ctx, tenantID, "snap-001")
		if err != nil {
			t.Fatalf("GetSnapshot failed: %v", err)
		}
		if retrieved.Tradelines[0].CreditorName != "Capital One" {
			t.Errorf("expected upsert to replace, got %q", retrieved.Tradelines[0].CreditorName)
		}
	})

	t.Run("ListSnapshots", func(t *testing.T) {
		if err := repo.SaveSnapshot(ctx, tenantID, testSnapshot("snap-002")); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}

		snaps, err := repo.ListSnapshots(ctx, tenantID, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("ListSnapshots failed: %v", err)
		}
		if len(snaps) != 2 {
			t.Errorf("expected 2 snapshots, got %d", len(snaps))
		}

		snaps, err = repo.ListSnapshots(ctx, tenantID, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("ListSnapshots failed: %v", err)
		}
		if len(snaps) != 0 {
			t.Errorf("expected no snapshots in the future window, got %d", len(snaps))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetSnapshot(ctx, "tenant-002", "snap-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveSnapshot(ctx, "", testSnapshot("snap-x")); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := repo.GetSnapshot(ctx, "", "snap-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetSnapshot(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetCaseResult(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestCaseResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	result := &domain.CaseResult{
		ID:         "fp-0001",
		SnapshotID: "snap-001",
		TenantID:   tenantID,
		Violations: []domain.Violation{
			{ID: "v1", Kind: domain.StatusConflict, Severity: domain.SeverityCritical},
		},
		Standing:      domain.StandingResult{Composite: 8, Verdict: domain.StandingStrong},
		Willfulness:   domain.WillfulnessResult{Percent: 40, Verdict: domain.WillfulUnlikely},
		TotalExposure: map[domain.Scenario]float64{domain.ScenarioConservative: 14100},
		Complete:      true,
		EngineVersion: "kestrel-1.0",
		GeneratedAt:   time.Now().UTC().Truncate(time.Second),
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveCaseResult(ctx, tenantID, result); err != nil {
			t.Fatalf("SaveCaseResult failed: %v", err)
		}

		retrieved, err := repo.GetCaseResult(ctx, tenantID, "fp-0001")
		if err != nil {
			t.Fatalf("GetCaseResult failed: %v", err)
		}
		if retrieved.ID != result.ID || retrieved.SnapshotID != result.SnapshotID {
			t.Errorf("round trip mismatch: %+v", retrieved)
		}
		if len(retrieved.Violations) != 1 || retrieved.Violations[0].Severity != domain.SeverityCritical {
			t.Errorf("violations lost in round trip: %v", retrieved.Violations)
		}
		if !retrieved.Complete {
			t.Error("complete flag lost in round trip")
		}
	})

	t.Run("AppendOnly", func(t *testing.T) {
		// Saving the same fingerprint again is a no-op, not an error and
		// not an overwrite.
		modified := *result
		modified.Complete = false
		if err := repo.SaveCaseResult(ctx, tenantID, &modified); err != nil {
			t.Fatalf("duplicate SaveCaseResult failed: %v", err)
		}

		retrieved, err := repo.GetCaseResult(ctx, tenantID, "fp-0001")
		if err != nil {
			t.Fatalf("GetCaseResult failed: %v", err)
		}
		if !retrieved.Complete {
			t.Error("append-only row was overwritten")
		}
	})

	t.Run("LatestForSnapshot", func(t *testing.T) {
		later := *result
		later.ID = "fp-0002"
		later.Willfulness.Percent = 70
		later.GeneratedAt = result.GeneratedAt.Add(time.Minute)
		if err := repo.SaveCaseResult(ctx, tenantID, &later); err != nil {
			t.Fatalf("SaveCaseResult failed: %v", err)
		}

		latest, err := repo.GetLatestResultForSnapshot(ctx, tenantID, "snap-001")
		if err != nil {
			t.Fatalf("GetLatestResultForSnapshot failed: %v", err)
		}
		if latest.ID != "fp-0002" {
			t.Errorf("expected the most recent result, got %s", latest.ID)
		}

		if _, err := repo.GetLatestResultForSnapshot(ctx, tenantID, "snap-none"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestCustomRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "*"

	rule := &domain.CustomRuleConfig{
		ID:         "rule-001",
		TenantID:   tenantID,
		Name:       "Wide balance spread",
		Version:    "1.0.0",
		Expression: "balance_variance > 0.25",
		Severity:   domain.SeverityHigh,
		Citations:  []string{"15 U.S.C. § 1681e(b)"},
		Enabled:    true,
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveCustomRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveCustomRule failed: %v", err)
		}

		retrieved, err := repo.GetCustomRule(ctx, tenantID, "rule-001")
		if err != nil {
			t.Fatalf("GetCustomRule failed: %v", err)
		}
		if retrieved.Expression != rule.Expression || retrieved.Severity != rule.Severity {
			t.Errorf("round trip mismatch: %+v", retrieved)
		}
		if len(retrieved.Citations) != 1 {
			t.Errorf("citations lost in round trip: %v", retrieved.Citations)
		}
	})

	t.Run("ListReturnsEnabledOnly", func(t *testing.T) {
		disabled := *rule
		disabled.ID = "rule-002"
		disabled.Enabled = false
		if err := repo.SaveCustomRule(ctx, tenantID, &disabled); err != nil {
			t.Fatalf("SaveCustomRule failed: %v", err)
		}

		rules, err := repo.ListCustomRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListCustomRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].ID != "rule-001" {
			t.Errorf("expected only the enabled rule, got %v", rules)
		}
	})

	t.Run("VersionUpsert", func(t *testing.T) {
		updated := *rule
		updated.Expression = "balance_variance > 0.5"
		if err := repo.SaveCustomRule(ctx, tenantID, &updated); err != nil {
			t.Fatalf("SaveCustomRule failed: %v", err)
		}

		retrieved, err := repo.GetCustomRule(ctx, tenantID, "rule-001")
		if err != nil {
			t.Fatalf("GetCustomRule failed: %v", err)
		}
		if retrieved.Expression != "balance_variance > 0.5" {
			t.Errorf("same-version save must update, got %q", retrieved.Expression)
		}
	})
}

func TestEngineConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "*"

	t.Run("NotFoundBeforeFirstSave", func(t *testing.T) {
		if _, err := repo.GetEngineConfig(ctx, tenantID); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RejectsInvalidConfig", func(t *testing.T) {
		bad := domain.DefaultEngineConfig()
		bad.WillfulnessMaximum = 50 // weights no longer sum to the maximum
		if err := repo.SaveEngineConfig(ctx, tenantID, bad); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("LatestVersionWins", func(t *testing.T) {
		first := domain.DefaultEngineConfig()
		if err := repo.SaveEngineConfig(ctx, tenantID, first); err != nil {
			t.Fatalf("SaveEngineConfig failed: %v", err)
		}

		time.Sleep(10 * time.Millisecond)

		second := domain.DefaultEngineConfig()
		second.VarianceThreshold = 0.25
		if err := repo.SaveEngineConfig(ctx, tenantID, second); err != nil {
			t.Fatalf("SaveEngineConfig failed: %v", err)
		}

		active, err := repo.GetEngineConfig(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetEngineConfig failed: %v", err)
		}
		if active.VarianceThreshold != 0.25 {
			t.Errorf("expected the most recent config, got threshold %.2f", active.VarianceThreshold)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT body FROM case_results WHERE id = ?", "SELECT body FROM case_results WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		if got := repo.rebind(tt.input); got != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	q := "SELECT * FROM t WHERE id = ?"
	if got := sqlite.rebind(q); got != q {
		t.Errorf("sqlite rebind must be a no-op, got %q", got)
	}
}
