package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/events"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/services/rewards"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(store, rewards.DefaultPolicy(), nil)
	if _, err := store.CreateBalance(context.Background(), currency.Balance{UserID: "u1"}); err != nil {
		t.Fatalf("create balance: %v", err)
	}
	return svc, store
}

func completedSession(id string, energy, dopamine string) session.FocusSession {
	return session.FocusSession{
		ID:                id,
		UserID:            "u1",
		PlannedMinutes:    25,
		ActualMinutes:     25,
		Status:            session.StatusCompleted,
		EnergyGenerated:   decimal.RequireFromString(energy),
		DopamineGenerated: decimal.RequireFromString(dopamine),
	}
}

func TestCreditSessionRewardIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := completedSession("s1", "33.00", "1.5000")

	first, applied, err := svc.CreditSessionReward(ctx, sess)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !applied {
		t.Fatal("first credit not applied")
	}

	second, applied, err := svc.CreditSessionReward(ctx, sess)
	if err != nil {
		t.Fatalf("repeat credit: %v", err)
	}
	if applied {
		t.Fatal("repeat credit applied, want replay")
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned transaction %s, want %s", second.ID, first.ID)
	}

	bal, err := svc.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if want := decimal.RequireFromString("33.00"); !bal.Energy.Equal(want) {
		t.Fatalf("energy = %s, want %s", bal.Energy, want)
	}
	if want := decimal.RequireFromString("1.5000"); !bal.Dopamine.Equal(want) {
		t.Fatalf("dopamine = %s, want %s", bal.Dopamine, want)
	}
}

func TestCreditSessionRewardConcurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess := completedSession("s1", "10.00", "0.5000")

	const workers = 16
	appliedCount := make(chan bool, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := svc.CreditSessionReward(ctx, sess)
			if err != nil {
				t.Errorf("credit: %v", err)
				return
			}
			appliedCount <- applied
		}()
	}
	wg.Wait()
	close(appliedCount)

	total := 0
	for applied := range appliedCount {
		if applied {
			total++
		}
	}
	if total != 1 {
		t.Fatalf("applied %d times, want exactly 1", total)
	}

	bal, err := svc.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if want := decimal.RequireFromString("10.00"); !bal.Energy.Equal(want) {
		t.Fatalf("energy = %s, want %s", bal.Energy, want)
	}
}

func TestCreditClampRecordsAppliedDelta(t *testing.T) {
	store := memory.New()
	policy := rewards.DefaultPolicy()
	policy.EnergyCeiling = decimal.NewFromInt(100)
	svc := New(store, policy, nil)

	ctx := context.Background()
	if _, err := store.CreateBalance(ctx, currency.Balance{UserID: "u1"}); err != nil {
		t.Fatalf("create balance: %v", err)
	}

	buf := events.NewRingBuffer(10)
	svc.AttachEvents(buf)

	if _, _, err := svc.CreditSessionReward(ctx, completedSession("s1", "90.00", "0")); err != nil {
		t.Fatalf("first credit: %v", err)
	}

	tx, applied, err := svc.CreditSessionReward(ctx, completedSession("s2", "50.00", "0"))
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if !applied {
		t.Fatal("second credit not applied")
	}
	if want := decimal.RequireFromString("10.00"); !tx.EnergyDelta.Equal(want) {
		t.Fatalf("applied delta = %s, want clamped %s", tx.EnergyDelta, want)
	}
	if !tx.EnergyAfter.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("energy after = %s, want 100", tx.EnergyAfter)
	}

	clamped := buf.RecentByType(events.EventRewardClamped, 10)
	if len(clamped) != 1 {
		t.Fatalf("clamp events = %d, want 1", len(clamped))
	}
}

func TestCreditAtCeilingAppliesZero(t *testing.T) {
	store := memory.New()
	policy := rewards.DefaultPolicy()
	policy.EnergyCeiling = decimal.NewFromInt(50)
	svc := New(store, policy, nil)

	ctx := context.Background()
	if _, err := store.CreateBalance(ctx, currency.Balance{
		UserID: "u1",
		Energy: decimal.NewFromInt(50),
	}); err != nil {
		t.Fatalf("create balance: %v", err)
	}

	tx, applied, err := svc.CreditSessionReward(ctx, completedSession("s1", "10.00", "0"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !applied {
		t.Fatal("credit not applied")
	}
	if !tx.EnergyDelta.IsZero() {
		t.Fatalf("applied delta = %s, want 0 at ceiling", tx.EnergyDelta)
	}
}

func TestLifetimeTotalsMonotonic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	previous := decimal.Zero
	for _, id := range []string{"s1", "s2", "s3"} {
		if _, _, err := svc.CreditSessionReward(ctx, completedSession(id, "5.00", "0.1000")); err != nil {
			t.Fatalf("credit %s: %v", id, err)
		}
		bal, err := svc.GetBalance(ctx, "u1")
		if err != nil {
			t.Fatalf("get balance: %v", err)
		}
		if bal.LifetimeEnergy.LessThan(previous) {
			t.Fatalf("lifetime energy decreased: %s < %s", bal.LifetimeEnergy, previous)
		}
		previous = bal.LifetimeEnergy
	}
	if want := decimal.RequireFromString("15.00"); !previous.Equal(want) {
		t.Fatalf("lifetime energy = %s, want %s", previous, want)
	}
}

func TestCreditRejectsNonCompletedSession(t *testing.T) {
	svc, _ := newTestService(t)

	sess := completedSession("s1", "10.00", "0")
	sess.Status = session.StatusAbandoned

	if _, _, err := svc.CreditSessionReward(context.Background(), sess); !errors.Is(err, ErrSessionNotCompleted) {
		t.Fatalf("err = %v, want ErrSessionNotCompleted", err)
	}

	// The balance must be untouched.
	bal, err := svc.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.Energy.IsZero() {
		t.Fatalf("energy = %s, want 0", bal.Energy)
	}
}

func TestCreditUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	sess := completedSession("s1", "10.00", "0")
	sess.UserID = "nobody"

	if _, _, err := svc.CreditSessionReward(context.Background(), sess); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestTransactionBalanceChain(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if _, _, err := svc.CreditSessionReward(ctx, completedSession(id, "7.00", "0.2000")); err != nil {
			t.Fatalf("credit %s: %v", id, err)
		}
	}

	txs, err := svc.ListTransactions(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("transactions = %d, want 3", len(txs))
	}

	// Newest first: each older balance snapshot plus the newer delta must
	// equal the newer snapshot.
	for i := 0; i < len(txs)-1; i++ {
		newer, older := txs[i], txs[i+1]
		if !older.EnergyAfter.Add(newer.EnergyDelta).Equal(newer.EnergyAfter) {
			t.Fatalf("balance chain broken between %s and %s", older.ID, newer.ID)
		}
	}
}
