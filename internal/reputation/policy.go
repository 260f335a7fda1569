package reputation

import (
	"errors"
	"fmt"
)

// Tier is a discrete trust classification derived from transaction history.
type Tier string

const (
	TierNew      Tier = "NEW"
	TierCaution  Tier = "CAUTION"
	TierStandard Tier = "STANDARD"
	TierReliable Tier = "RELIABLE"
	TierTrusted  Tier = "TRUSTED"
)

// Policy holds every tunable threshold of the scoring engine and the escrow
// policy derived from it. It is injected; nothing reads these from globals.
type Policy struct {
	NewCount      int64   `yaml:"new_count"`
	ReliableCount int64   `yaml:"reliable_count"`
	ReliableScore float64 `yaml:"reliable_score"`
	TrustedCount  int64   `yaml:"trusted_count"`
	TrustedScore  float64 `yaml:"trusted_score"`
	StandardScore float64 `yaml:"standard_score"`

	// Volume thresholds in USD; each one exceeded adds BonusStep.
	VolumeBonusThresholds []float64 `yaml:"volume_bonus_thresholds"`
	// Average completion strictly inside (0, FastCompletionHours) adds BonusStep.
	FastCompletionHours float64 `yaml:"fast_completion_hours"`
	BonusStep           float64 `yaml:"bonus_step"`

	DisputeWindowByTier map[Tier]int `yaml:"dispute_window_by_tier"`

	// Display-only feedback weighting.
	RecencyMin float64 `yaml:"recency_min"`
	RecencyMax float64 `yaml:"recency_max"`

	// Conversion from transaction minor units to USD volume.
	MinorUnitsPerUSD int64 `yaml:"minor_units_per_usd"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		NewCount:              3,
		ReliableCount:         5,
		ReliableScore:         4.0,
		TrustedCount:          10,
		TrustedScore:          4.5,
		StandardScore:         3.0,
		VolumeBonusThresholds: []float64{10_000, 100_000},
		FastCompletionHours:   24,
		BonusStep:             0.25,
		DisputeWindowByTier: map[Tier]int{
			TierTrusted:  12,
			TierReliable: 24,
			TierStandard: 48,
			TierNew:      72,
			TierCaution:  72,
		},
		RecencyMin:       0.5,
		RecencyMax:       1.5,
		MinorUnitsPerUSD: 100,
	}
}

// Validate checks that thresholds are ordered and every tier has a window.
func (p Policy) Validate() error {
	var errs []error
	if p.NewCount < 0 {
		errs = append(errs, errors.New("new_count must not be negative"))
	}
	if p.TrustedCount < p.ReliableCount {
		errs = append(errs, errors.New("trusted_count must be >= reliable_count"))
	}
	if p.TrustedScore < p.ReliableScore || p.ReliableScore < p.StandardScore {
		errs = append(errs, errors.New("scores must satisfy trusted >= reliable >= standard"))
	}
	if p.RecencyMax < p.RecencyMin || p.RecencyMin <= 0 {
		errs = append(errs, errors.New("recency weights must satisfy 0 < min <= max"))
	}
	if p.MinorUnitsPerUSD <= 0 {
		errs = append(errs, errors.New("minor_units_per_usd must be positive"))
	}
	for _, tier := range []Tier{TierNew, TierCaution, TierStandard, TierReliable, TierTrusted} {
		if p.DisputeWindowByTier[tier] <= 0 {
			errs = append(errs, fmt.Errorf("dispute window for tier %s must be positive", tier))
		}
	}
	return errors.Join(errs...)
}
