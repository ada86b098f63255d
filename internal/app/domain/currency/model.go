// Package currency defines the per-user balance aggregate and the append-only
// transaction record that together form the system of record for earned
// energy and dopamine.
package currency

import (
	"time"

	"github.com/shopspring/decimal"
)

// TypeFocusSessionReward is the transaction type written by the session
// reward credit path. The (reference, type) pair is unique, which is what
// makes the credit idempotent.
const TypeFocusSessionReward = "focus_session_reward"

// Balance is the single mutable currency aggregate per user. Lifetime totals
// are monotonically non-decreasing; current balances never go negative
// through the credit path.
type Balance struct {
	UserID           string
	Energy           decimal.Decimal
	Dopamine         decimal.Decimal
	LifetimeEnergy   decimal.Decimal
	LifetimeDopamine decimal.Decimal
	UpdatedAt        time.Time
}

// Transaction is an immutable audit record. The *After fields snapshot the
// balance inside the same atomic operation that applied the deltas, so the
// ledger can always be reconciled against them.
type Transaction struct {
	ID            string
	UserID        string
	Type          string
	EnergyDelta   decimal.Decimal
	DopamineDelta decimal.Decimal
	EnergyAfter   decimal.Decimal
	DopamineAfter decimal.Decimal
	Reference     string // FocusSession id for session rewards
	Metadata      map[string]string
	CreatedAt     time.Time
}
