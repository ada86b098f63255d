package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
)

func TestUpdateSessionConditional(t *testing.T) {
	store := New()
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, session.FocusSession{
		UserID:         "u1",
		PlannedMinutes: 25,
		Status:         session.StatusPlanned,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sess.Status = session.StatusActive
	if _, err := store.UpdateSession(ctx, sess, session.StatusPlanned); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A writer still expecting the old status loses.
	sess.Status = session.StatusAbandoned
	if _, err := store.UpdateSession(ctx, sess, session.StatusPlanned); !errors.Is(err, storage.ErrStatusConflict) {
		t.Fatalf("stale update err = %v, want ErrStatusConflict", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != session.StatusActive {
		t.Fatalf("status = %s, want active after losing writer", got.Status)
	}
}

func TestListUncredited(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateBalance(ctx, currency.Balance{UserID: "u1"}); err != nil {
		t.Fatalf("create balance: %v", err)
	}

	completed, err := store.CreateSession(ctx, session.FocusSession{
		UserID:          "u1",
		PlannedMinutes:  25,
		Status:          session.StatusCompleted,
		EnergyGenerated: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("create completed: %v", err)
	}
	if _, err := store.CreateSession(ctx, session.FocusSession{
		UserID:         "u1",
		PlannedMinutes: 25,
		Status:         session.StatusAbandoned,
	}); err != nil {
		t.Fatalf("create abandoned: %v", err)
	}

	orphans, err := store.ListUncredited(ctx)
	if err != nil {
		t.Fatalf("list uncredited: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != completed.ID {
		t.Fatalf("uncredited = %+v, want only the completed session", orphans)
	}

	// Crediting removes it from the sweep.
	if _, _, err := store.CreditReward(ctx, storage.CreditRequest{
		UserID:    "u1",
		Reference: completed.ID,
		Type:      currency.TypeFocusSessionReward,
		Energy:    decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	orphans, err = store.ListUncredited(ctx)
	if err != nil {
		t.Fatalf("list uncredited: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("uncredited after credit = %d, want 0", len(orphans))
	}
}

func TestCreditRewardUnknownBalance(t *testing.T) {
	store := New()

	_, _, err := store.CreditReward(context.Background(), storage.CreditRequest{
		UserID:    "nobody",
		Reference: "s1",
		Type:      currency.TypeFocusSessionReward,
		Energy:    decimal.NewFromInt(1),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
