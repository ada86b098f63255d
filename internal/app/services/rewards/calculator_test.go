package rewards

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEnergyAnalyticalWithTierBonus(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())

	// 25 analytical minutes: 25 x 1.20 x 1.10.
	got := calc.Energy(EnergyInput{PlannedMinutes: 25, ActualMinutes: 25, Category: "analytical"})
	if want := decimal.RequireFromString("33.00"); !got.Equal(want) {
		t.Fatalf("energy = %s, want %s", got, want)
	}
}

func TestEnergyBothTiersWithInterruptions(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())

	// 50 uncategorized minutes, 2 interruptions: 50 x 1.10 x 1.20 x 0.8.
	got := calc.Energy(EnergyInput{PlannedMinutes: 50, ActualMinutes: 50, Interruptions: 2})
	if want := decimal.RequireFromString("52.80"); !got.Equal(want) {
		t.Fatalf("energy = %s, want %s", got, want)
	}
}

func TestEnergyInterruptionFloor(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())

	// Ten interruptions would zero the multiplier; the floor holds at 0.5.
	got := calc.Energy(EnergyInput{ActualMinutes: 10, Interruptions: 10})
	if want := decimal.RequireFromString("5.00"); !got.Equal(want) {
		t.Fatalf("energy = %s, want %s", got, want)
	}
}

func TestEnergyUnknownCategoryIsNeutral(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())

	got := calc.Energy(EnergyInput{ActualMinutes: 10, Category: "gardening"})
	if want := decimal.RequireFromString("10.00"); !got.Equal(want) {
		t.Fatalf("energy = %s, want %s", got, want)
	}
}

func TestEnergyZeroDuration(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())

	if got := calc.Energy(EnergyInput{ActualMinutes: 0, Category: "analytical"}); !got.IsZero() {
		t.Fatalf("energy = %s, want 0", got)
	}
}

func TestDopamineRateTimesMinutes(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())

	// 0.05/min for 30 minutes.
	got := calc.Dopamine(decimal.RequireFromString("0.05"), 30)
	if want := decimal.RequireFromString("1.5000"); !got.Equal(want) {
		t.Fatalf("dopamine = %s, want %s", got, want)
	}
}

func TestDopamineZeroRate(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())

	if got := calc.Dopamine(decimal.Zero, 30); !got.IsZero() {
		t.Fatalf("dopamine = %s, want 0", got)
	}
}

func TestCalculatorDeterministic(t *testing.T) {
	calc := NewCalculator(DefaultPolicy())
	in := EnergyInput{PlannedMinutes: 60, ActualMinutes: 55, Interruptions: 3, Category: "learning"}

	first := calc.Energy(in)
	for i := 0; i < 100; i++ {
		if got := calc.Energy(in); !got.Equal(first) {
			t.Fatalf("run %d produced %s, first run produced %s", i, got, first)
		}
	}
}

func TestLoadPolicyFileOverlaysDefaults(t *testing.T) {
	path := t.TempDir() + "/policy.yaml"
	content := "tier_one_minutes: 30\nenergy_ceiling: 500\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if policy.TierOneMinutes != 30 {
		t.Fatalf("tier one minutes = %d, want 30", policy.TierOneMinutes)
	}
	if !policy.EnergyCeiling.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("energy ceiling = %s, want 500", policy.EnergyCeiling)
	}
	// Untouched fields keep their defaults.
	if policy.TierTwoMinutes != 50 {
		t.Fatalf("tier two minutes = %d, want 50", policy.TierTwoMinutes)
	}
}
