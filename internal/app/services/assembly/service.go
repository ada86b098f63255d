// Package assembly resolves a frozen module configuration into the single
// dopamine generation rate the reward calculator consumes.
package assembly

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
	"github.com/NeuroMod-Labs/reward_engine/pkg/logger"
)

// ErrOwnershipViolation is returned when a snapshot references a module
// instance the requesting user does not own. This is a hard failure rather
// than a silent skip because a foreign reference can only come from a
// tampered snapshot.
var ErrOwnershipViolation = errors.New("assembly references a module not owned by user")

// ErrInvalidIntensity is returned when a slot's intensity falls outside the
// 0..100 range.
var ErrInvalidIntensity = errors.New("slot intensity out of range")

// Service aggregates assembly snapshots against the module catalog.
type Service struct {
	catalog storage.CatalogStore
	log     *logger.Logger
}

// New creates the aggregation service.
func New(catalog storage.CatalogStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("assembly")
	}
	return &Service{catalog: catalog, log: log}
}

// Validate checks a snapshot without aggregating it: every referenced
// instance must exist and belong to the user, and every slot's intensity must
// be within 0..100. Disabled slots are checked too. A nil or empty snapshot
// is valid.
func (s *Service) Validate(ctx context.Context, userID string, snap *catalog.AssemblySnapshot) error {
	if snap.Empty() {
		return nil
	}
	for _, slot := range snap.Slots {
		if slot.Intensity < 0 || slot.Intensity > 100 {
			return fmt.Errorf("instance %s intensity %d: %w", slot.InstanceID, slot.Intensity, ErrInvalidIntensity)
		}
		mod, err := s.catalog.GetOwnedModule(ctx, slot.InstanceID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("instance %s: %w", slot.InstanceID, ErrOwnershipViolation)
			}
			return err
		}
		if mod.UserID != userID {
			return fmt.Errorf("instance %s: %w", slot.InstanceID, ErrOwnershipViolation)
		}
	}
	return nil
}

type resolvedSlot struct {
	slot         catalog.AssemblySlot
	def          catalog.Definition
	contribution decimal.Decimal
}

// Rate resolves snap into a non-negative dopamine rate in currency units per
// minute, rounded to 4 decimal places. An empty or nil snapshot yields zero.
// Every referenced instance is ownership-checked and every intensity
// range-checked, enabled or not; disabled slots are then excluded from the
// aggregation.
func (s *Service) Rate(ctx context.Context, userID string, snap *catalog.AssemblySnapshot) (decimal.Decimal, error) {
	if snap.Empty() {
		return decimal.Zero, nil
	}

	resolved := make(map[string]resolvedSlot, len(snap.Slots))
	for _, slot := range snap.Slots {
		mod, err := s.catalog.GetOwnedModule(ctx, slot.InstanceID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return decimal.Zero, fmt.Errorf("instance %s: %w", slot.InstanceID, ErrOwnershipViolation)
			}
			return decimal.Zero, err
		}
		if mod.UserID != userID {
			return decimal.Zero, fmt.Errorf("instance %s: %w", slot.InstanceID, ErrOwnershipViolation)
		}
		if slot.Intensity < 0 || slot.Intensity > 100 {
			return decimal.Zero, fmt.Errorf("instance %s intensity %d: %w", slot.InstanceID, slot.Intensity, ErrInvalidIntensity)
		}
		if !slot.Enabled {
			continue
		}

		def, err := s.catalog.GetDefinition(ctx, mod.DefinitionID)
		if err != nil {
			return decimal.Zero, err
		}
		// Base contribution scales with upgrade level and slot intensity.
		level := mod.Level
		if level < 1 {
			level = 1
		}
		levelBonus := decimal.NewFromInt(1).Add(
			decimal.RequireFromString("0.1").Mul(decimal.NewFromInt(int64(level - 1))))
		intensity := decimal.NewFromInt(int64(slot.Intensity)).Div(decimal.NewFromInt(100))

		resolved[slot.InstanceID] = resolvedSlot{
			slot:         slot,
			def:          def,
			contribution: def.DopamineRate.Mul(levelBonus).Mul(intensity),
		}
	}

	total := decimal.Zero
	for id, entry := range resolved {
		contribution := entry.contribution
		if entry.def.Type == catalog.ModuleGenerator {
			contribution = contribution.Mul(s.synergyFactor(id, resolved))
		}
		total = total.Add(contribution)
	}

	total = total.Round(4)
	if total.IsNegative() {
		return decimal.Zero, nil
	}
	return total, nil
}

// synergyFactor multiplies the factors of every enabled multiplier connected
// to the given generator. Connections are undirected, so either side of the
// pair may declare the edge.
func (s *Service) synergyFactor(generatorID string, resolved map[string]resolvedSlot) decimal.Decimal {
	factor := decimal.NewFromInt(1)
	gen := resolved[generatorID]

	seen := make(map[string]bool)
	apply := func(otherID string) {
		other, ok := resolved[otherID]
		if !ok || seen[otherID] || other.def.Type != catalog.ModuleMultiplier {
			return
		}
		seen[otherID] = true
		factor = factor.Mul(other.def.MultiplierFactor())
	}

	for _, otherID := range gen.slot.Connections {
		apply(otherID)
	}
	for otherID, other := range resolved {
		for _, connID := range other.slot.Connections {
			if connID == generatorID {
				apply(otherID)
			}
		}
	}
	return factor
}
