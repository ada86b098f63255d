package assembly

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage/memory"
)

type fixture struct {
	store *memory.Store
	svc   *Service
}

func newFixture() fixture {
	store := memory.New()
	return fixture{store: store, svc: New(store, nil)}
}

func (f fixture) definition(t *testing.T, typ catalog.ModuleType, rate string, effects ...catalog.Effect) catalog.Definition {
	t.Helper()
	def, err := f.store.CreateDefinition(context.Background(), catalog.Definition{
		Name:         "test-" + string(typ),
		Type:         typ,
		DopamineRate: decimal.RequireFromString(rate),
		Effects:      effects,
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	return def
}

func (f fixture) instance(t *testing.T, userID, defID string, level int) catalog.OwnedModule {
	t.Helper()
	mod, err := f.store.CreateOwnedModule(context.Background(), catalog.OwnedModule{
		UserID:       userID,
		DefinitionID: defID,
		Level:        level,
	})
	if err != nil {
		t.Fatalf("create owned module: %v", err)
	}
	return mod
}

func TestRateEmptySnapshot(t *testing.T) {
	f := newFixture()

	rate, err := f.svc.Rate(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !rate.IsZero() {
		t.Fatalf("rate = %s, want 0", rate)
	}

	rate, err = f.svc.Rate(context.Background(), "u1", &catalog.AssemblySnapshot{})
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !rate.IsZero() {
		t.Fatalf("rate = %s, want 0", rate)
	}
}

func TestRateGeneratorMultiplierSynergy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.02")
	multDef := f.definition(t, catalog.ModuleMultiplier, "0",
		catalog.Effect{Kind: catalog.EffectKindMultiplier, Value: decimal.RequireFromString("1.5")})

	gen := f.instance(t, "u1", genDef.ID, 1)
	mult := f.instance(t, "u1", multDef.ID, 1)

	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: gen.ID, Position: 0, Enabled: true, Intensity: 100, Connections: []string{mult.ID}},
		{InstanceID: mult.ID, Position: 1, Enabled: true, Intensity: 100},
	}}

	rate, err := f.svc.Rate(ctx, "u1", snap)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if want := decimal.RequireFromString("0.0300"); !rate.Equal(want) {
		t.Fatalf("rate = %s, want %s", rate, want)
	}
}

func TestRateSynergyEdgeDeclaredOnMultiplierSide(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.02")
	multDef := f.definition(t, catalog.ModuleMultiplier, "0",
		catalog.Effect{Kind: catalog.EffectKindMultiplier, Value: decimal.RequireFromString("1.5")})

	gen := f.instance(t, "u1", genDef.ID, 1)
	mult := f.instance(t, "u1", multDef.ID, 1)

	// Same pair, edge declared from the multiplier slot instead.
	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: gen.ID, Position: 0, Enabled: true, Intensity: 100},
		{InstanceID: mult.ID, Position: 1, Enabled: true, Intensity: 100, Connections: []string{gen.ID}},
	}}

	rate, err := f.svc.Rate(ctx, "u1", snap)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if want := decimal.RequireFromString("0.0300"); !rate.Equal(want) {
		t.Fatalf("rate = %s, want %s", rate, want)
	}
}

func TestRateLevelAndIntensityScaling(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Level 3 gives 1 + 0.1*2 = 1.2; intensity 50 halves it.
	genDef := f.definition(t, catalog.ModuleGenerator, "0.10")
	gen := f.instance(t, "u1", genDef.ID, 3)

	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: gen.ID, Enabled: true, Intensity: 50},
	}}

	rate, err := f.svc.Rate(ctx, "u1", snap)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if want := decimal.RequireFromString("0.0600"); !rate.Equal(want) {
		t.Fatalf("rate = %s, want %s", rate, want)
	}
}

func TestRateDisabledSlotSkipped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.05")
	enabled := f.instance(t, "u1", genDef.ID, 1)
	disabled := f.instance(t, "u1", genDef.ID, 1)

	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: enabled.ID, Enabled: true, Intensity: 100},
		{InstanceID: disabled.ID, Enabled: false, Intensity: 100},
	}}

	rate, err := f.svc.Rate(ctx, "u1", snap)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if want := decimal.RequireFromString("0.0500"); !rate.Equal(want) {
		t.Fatalf("rate = %s, want %s", rate, want)
	}
}

func TestRateForeignInstanceRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.05")
	foreign := f.instance(t, "someone-else", genDef.ID, 1)

	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: foreign.ID, Enabled: true, Intensity: 100},
	}}

	if _, err := f.svc.Rate(ctx, "u1", snap); !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("err = %v, want ErrOwnershipViolation", err)
	}
}

func TestRateUnknownInstanceRejected(t *testing.T) {
	f := newFixture()

	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: "ghost", Enabled: true, Intensity: 100},
	}}

	if _, err := f.svc.Rate(context.Background(), "u1", snap); !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("err = %v, want ErrOwnershipViolation", err)
	}
}

func TestRateDisabledForeignInstanceStillRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.05")
	foreign := f.instance(t, "someone-else", genDef.ID, 1)

	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: foreign.ID, Enabled: false, Intensity: 100},
	}}

	if _, err := f.svc.Rate(ctx, "u1", snap); !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("err = %v, want ErrOwnershipViolation", err)
	}
}

func TestRateNegativeIntensityRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.05")
	healthy := f.instance(t, "u1", genDef.ID, 1)
	malformed := f.instance(t, "u1", genDef.ID, 1)

	// A negative intensity would drain the healthy slot's contribution.
	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: healthy.ID, Enabled: true, Intensity: 100},
		{InstanceID: malformed.ID, Enabled: true, Intensity: -100},
	}}

	if _, err := f.svc.Rate(ctx, "u1", snap); !errors.Is(err, ErrInvalidIntensity) {
		t.Fatalf("err = %v, want ErrInvalidIntensity", err)
	}
}

func TestRateIntensityAboveRangeRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.05")
	gen := f.instance(t, "u1", genDef.ID, 1)

	snap := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: gen.ID, Enabled: true, Intensity: 101},
	}}

	if _, err := f.svc.Rate(ctx, "u1", snap); !errors.Is(err, ErrInvalidIntensity) {
		t.Fatalf("err = %v, want ErrInvalidIntensity", err)
	}
}

func TestValidate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.05")
	owned := f.instance(t, "u1", genDef.ID, 1)
	foreign := f.instance(t, "someone-else", genDef.ID, 1)

	if err := f.svc.Validate(ctx, "u1", nil); err != nil {
		t.Fatalf("nil snapshot: %v", err)
	}
	if err := f.svc.Validate(ctx, "u1", &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: owned.ID, Enabled: true, Intensity: 100},
	}}); err != nil {
		t.Fatalf("owned snapshot: %v", err)
	}

	err := f.svc.Validate(ctx, "u1", &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: foreign.ID, Enabled: false, Intensity: 100},
	}})
	if !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("foreign err = %v, want ErrOwnershipViolation", err)
	}

	err = f.svc.Validate(ctx, "u1", &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: "ghost", Enabled: true, Intensity: 100},
	}})
	if !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("unknown err = %v, want ErrOwnershipViolation", err)
	}

	err = f.svc.Validate(ctx, "u1", &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: owned.ID, Enabled: true, Intensity: -1},
	}})
	if !errors.Is(err, ErrInvalidIntensity) {
		t.Fatalf("intensity err = %v, want ErrInvalidIntensity", err)
	}
}

func TestRateOrderIndependent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	genDef := f.definition(t, catalog.ModuleGenerator, "0.03")
	multDef := f.definition(t, catalog.ModuleMultiplier, "0",
		catalog.Effect{Kind: catalog.EffectKindMultiplier, Value: decimal.RequireFromString("1.2")})

	gen := f.instance(t, "u1", genDef.ID, 2)
	mult := f.instance(t, "u1", multDef.ID, 1)

	forward := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: gen.ID, Enabled: true, Intensity: 100, Connections: []string{mult.ID}},
		{InstanceID: mult.ID, Enabled: true, Intensity: 100},
	}}
	reversed := &catalog.AssemblySnapshot{Slots: []catalog.AssemblySlot{
		{InstanceID: mult.ID, Enabled: true, Intensity: 100},
		{InstanceID: gen.ID, Enabled: true, Intensity: 100, Connections: []string{mult.ID}},
	}}

	a, err := f.svc.Rate(ctx, "u1", forward)
	if err != nil {
		t.Fatalf("rate forward: %v", err)
	}
	b, err := f.svc.Rate(ctx, "u1", reversed)
	if err != nil {
		t.Fatalf("rate reversed: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("rates differ by slot order: %s vs %s", a, b)
	}
}
