package domain

import (
	"errors"
	"testing"
)

func TestDefaultEngineConfigValidates(t *testing.T) {
	if err := DefaultEngineConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateWillfulnessWeightConsistency(t *testing.T) {
	t.Run("WeightBelowMaximum", func(t *testing.T) {
		cfg := DefaultEngineConfig()
		cfg.WillfulnessWeights[IndicatorDuration] = 10 // sum 95, maximum 100

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected weights-sum mismatch to be rejected")
		}
		var cerr *ConfigurationError
		if !errors.As(err, &cerr) || cerr.Field != "willfulnessWeights" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("MaximumAboveWeightSum", func(t *testing.T) {
		cfg := DefaultEngineConfig()
		cfg.WillfulnessMaximum = 120 // weights still sum to 100

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected maximum mismatch to be rejected")
		}
		var cerr *ConfigurationError
		if !errors.As(err, &cerr) || cerr.Field != "willfulnessWeights" {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("ConsistentRescaleAccepted", func(t *testing.T) {
		// Halving every weight and the maximum together keeps the
		// invariant and must pass.
		cfg := DefaultEngineConfig()
		for ind, w := range cfg.WillfulnessWeights {
			cfg.WillfulnessWeights[ind] = w / 2
		}
		cfg.WillfulnessMaximum = 50

		if err := cfg.Validate(); err != nil {
			t.Errorf("rescaled-consistent config must validate: %v", err)
		}
	})

	t.Run("NonPositiveWeightRejected", func(t *testing.T) {
		cfg := DefaultEngineConfig()
		cfg.WillfulnessWeights[IndicatorImpossibleData] = 0

		if err := cfg.Validate(); err == nil {
			t.Error("expected zero weight to be rejected")
		}
	})

	t.Run("EmptyWeightTableRejected", func(t *testing.T) {
		cfg := DefaultEngineConfig()
		cfg.WillfulnessWeights = nil

		if err := cfg.Validate(); err == nil {
			t.Error("expected empty weight table to be rejected")
		}
	})
}

func TestValidateThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"EmptyExclusionTable", func(c *EngineConfig) { c.StatusExclusions = nil }},
		{"IncompleteExclusion", func(c *EngineConfig) {
			c.StatusExclusions = append(c.StatusExclusions, StatusExclusion{A: StatusOpen})
		}},
		{"ZeroLateGap", func(c *EngineConfig) { c.LateGapHighMonths = 0 }},
		{"VarianceOutOfRange", func(c *EngineConfig) { c.VarianceThreshold = 1.5 }},
		{"EmptyRetentionTable", func(c *EngineConfig) { c.RetentionYears = nil }},
		{"NegativeRetention", func(c *EngineConfig) { c.RetentionYears[RetentionGeneral] = -1 }},
		{"SimilarityAboveOne", func(c *EngineConfig) { c.NameSimilarityThreshold = 1.1 }},
		{"NegativeDuplicateTolerance", func(c *EngineConfig) { c.DuplicateBalanceTolerance = -0.1 }},
		{"ZeroLinkageWindow", func(c *EngineConfig) { c.LinkageOpenedWindowDays = 0 }},
		{"InvertedStatutoryRange", func(c *EngineConfig) { c.StatutoryMin = 2000 }},
		{"NegativePunitiveRatio", func(c *EngineConfig) { c.PunitiveRatios[2] = -1 }},
		{"ZeroDueProcessCeiling", func(c *EngineConfig) { c.DueProcessCeilingRatio = 0 }},
		{"NegativeFeeRate", func(c *EngineConfig) { c.FeeRate = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation to fail")
			}
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Errorf("expected a ConfigurationError, got %T: %v", err, err)
			}
		})
	}
}
