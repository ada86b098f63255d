package rewards

import "github.com/shopspring/decimal"

// EnergyInput carries the completed-session facts the energy formula needs.
type EnergyInput struct {
	PlannedMinutes int
	ActualMinutes  int
	Interruptions  int
	Category       string
}

// Calculator evaluates the reward formulas under one policy. Both methods are
// pure and deterministic, so the reconciler and the live completion path
// always agree on amounts.
type Calculator struct {
	policy Policy
}

// NewCalculator creates a Calculator for the given policy.
func NewCalculator(policy Policy) *Calculator {
	return &Calculator{policy: policy}
}

// Policy returns the policy the calculator was built with.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// Energy computes the energy reward: one unit per completed minute, scaled by
// the category multiplier, duration-tier bonuses, and the interruption
// penalty, rounded to 2 decimal places half-up.
func (c *Calculator) Energy(in EnergyInput) decimal.Decimal {
	if in.ActualMinutes <= 0 {
		return decimal.Zero
	}

	amount := decimal.NewFromInt(int64(in.ActualMinutes))

	if mult, ok := c.policy.CategoryMultipliers[in.Category]; ok && in.Category != "" {
		amount = amount.Mul(mult)
	}

	if c.policy.TierOneMinutes > 0 && in.ActualMinutes >= c.policy.TierOneMinutes {
		amount = amount.Mul(c.policy.TierOneBonus)
		if c.policy.TierTwoMinutes > 0 && in.ActualMinutes >= c.policy.TierTwoMinutes {
			amount = amount.Mul(c.policy.TierTwoBonus)
		}
	}

	amount = amount.Mul(c.interruptionMultiplier(in.Interruptions))

	amount = amount.Round(2)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Dopamine computes the dopamine reward from the aggregated per-minute rate,
// rounded to 4 decimal places half-up. A zero rate means no configuration was
// attached, which yields zero rather than an error.
func (c *Calculator) Dopamine(rate decimal.Decimal, actualMinutes int) decimal.Decimal {
	if actualMinutes <= 0 || !rate.IsPositive() {
		return decimal.Zero
	}
	return rate.Mul(decimal.NewFromInt(int64(actualMinutes))).Round(4)
}

func (c *Calculator) interruptionMultiplier(interruptions int) decimal.Decimal {
	if interruptions <= 0 {
		return decimal.NewFromInt(1)
	}
	penalty := decimal.NewFromInt(1).Sub(c.policy.InterruptionStep.Mul(decimal.NewFromInt(int64(interruptions))))
	if penalty.LessThan(c.policy.InterruptionFloor) {
		return c.policy.InterruptionFloor
	}
	return penalty
}
