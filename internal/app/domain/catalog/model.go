// Package catalog defines the module-catalog read model: module definitions,
// user-owned module instances, and the assembly snapshots that freeze a
// configuration for the lifetime of a focus session. The reward engine reads
// these entities but never owns their provisioning.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// ModuleType classifies how a module contributes to an assembly.
type ModuleType string

const (
	ModuleGenerator  ModuleType = "generator"
	ModuleMultiplier ModuleType = "multiplier"
	ModuleSpecial    ModuleType = "special"
	ModuleSynergy    ModuleType = "synergy"
)

// EffectKindMultiplier marks an effect whose value is a multiplicative factor
// applied to connected generator contributions.
const EffectKindMultiplier = "multiplier"

// Effect is one entry of a module definition's effect list.
type Effect struct {
	Kind      string          `json:"kind"`
	Value     decimal.Decimal `json:"value"`
	Condition string          `json:"condition,omitempty"`
}

// Definition describes a module as sold in the catalog. Definitions are
// immutable once referenced by an owned instance; edits create a new id.
type Definition struct {
	ID           string
	Name         string
	Type         ModuleType
	Rarity       string
	EnergyCost   decimal.Decimal
	DopamineRate decimal.Decimal // base generation, currency units per minute
	Effects      []Effect
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MultiplierFactor returns the combined multiplicative factor of the
// definition's multiplier effects, or 1 when it has none.
func (d Definition) MultiplierFactor() decimal.Decimal {
	factor := decimal.NewFromInt(1)
	for _, eff := range d.Effects {
		if eff.Kind == EffectKindMultiplier && eff.Value.IsPositive() {
			factor = factor.Mul(eff.Value)
		}
	}
	return factor
}

// OwnedModule is a user's instance of a catalog definition.
type OwnedModule struct {
	ID           string
	UserID       string
	DefinitionID string
	Level        int             // upgrade level, >= 1
	Enhancement  decimal.Decimal // spent dopamine scaling level effects, >= 0
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AssemblySlot places one owned module inside an assembly snapshot.
type AssemblySlot struct {
	InstanceID  string   `json:"instance_id"`
	Position    int      `json:"position"`
	Enabled     bool     `json:"enabled"`
	Intensity   int      `json:"intensity"` // 0-100
	Connections []string `json:"connections,omitempty"`
}

// AssemblySnapshot is the ordered module configuration captured when a focus
// session is created. It is immutable for the life of that session: re-reading
// the live configuration later must never retroactively change rewards.
type AssemblySnapshot struct {
	ID      string         `json:"id"`
	TakenAt time.Time      `json:"taken_at"`
	Slots   []AssemblySlot `json:"slots"`
}

// Empty reports whether the snapshot references no modules.
func (s *AssemblySnapshot) Empty() bool {
	return s == nil || len(s.Slots) == 0
}
