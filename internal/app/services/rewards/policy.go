// Package rewards holds the reward policy and the pure calculator that turns
// completed-session facts into energy and dopamine amounts.
package rewards

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Policy is the tunable half of the reward formulas. All fields have working
// defaults; an operator can overlay them from a YAML file.
type Policy struct {
	// CategoryMultipliers maps a task category to its energy multiplier.
	// Unknown or absent categories multiply by 1.
	CategoryMultipliers map[string]decimal.Decimal `yaml:"category_multipliers"`

	// Duration-tier bonuses stack multiplicatively once actual minutes reach
	// each threshold.
	TierOneMinutes int             `yaml:"tier_one_minutes"`
	TierOneBonus   decimal.Decimal `yaml:"tier_one_bonus"`
	TierTwoMinutes int             `yaml:"tier_two_minutes"`
	TierTwoBonus   decimal.Decimal `yaml:"tier_two_bonus"`

	// Each interruption removes InterruptionStep from the penalty multiplier
	// until it bottoms out at InterruptionFloor.
	InterruptionStep  decimal.Decimal `yaml:"interruption_step"`
	InterruptionFloor decimal.Decimal `yaml:"interruption_floor"`

	// MaxPlannedMinutes bounds session creation.
	MaxPlannedMinutes int `yaml:"max_planned_minutes"`

	// Balance ceilings enforced by the ledger credit path.
	EnergyCeiling   decimal.Decimal `yaml:"energy_ceiling"`
	DopamineCeiling decimal.Decimal `yaml:"dopamine_ceiling"`
}

// DefaultPolicy returns the stock reward policy.
func DefaultPolicy() Policy {
	return Policy{
		CategoryMultipliers: map[string]decimal.Decimal{
			"analytical": decimal.RequireFromString("1.20"),
			"learning":   decimal.RequireFromString("1.15"),
			"creative":   decimal.RequireFromString("1.10"),
			"physical":   decimal.RequireFromString("0.90"),
		},
		TierOneMinutes:    25,
		TierOneBonus:      decimal.RequireFromString("1.10"),
		TierTwoMinutes:    50,
		TierTwoBonus:      decimal.RequireFromString("1.20"),
		InterruptionStep:  decimal.RequireFromString("0.1"),
		InterruptionFloor: decimal.RequireFromString("0.5"),
		MaxPlannedMinutes: 480,
		EnergyCeiling:     decimal.NewFromInt(10_000),
		DopamineCeiling:   decimal.NewFromInt(1_000_000),
	}
}

// LoadPolicyFile overlays the default policy with values from a YAML file.
// Only fields present in the file are overridden.
func LoadPolicyFile(path string) (Policy, error) {
	policy := DefaultPolicy()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	return policy, nil
}
