package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStatusConflict is returned by UpdateSession when the session is no
// longer in the expected status. It is how racing transitions on the same
// session are serialized: exactly one writer wins, the rest observe this.
var ErrStatusConflict = errors.New("session status changed concurrently")

// SessionStore persists focus sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, sess session.FocusSession) (session.FocusSession, error)
	GetSession(ctx context.Context, id string) (session.FocusSession, error)
	ListSessions(ctx context.Context, userID string) ([]session.FocusSession, error)

	// UpdateSession persists the session only if its stored status still
	// equals expect, returning ErrStatusConflict otherwise.
	UpdateSession(ctx context.Context, sess session.FocusSession, expect session.Status) (session.FocusSession, error)

	// ListUncredited returns completed sessions whose rewards have no
	// matching ledger transaction yet. Used by the reward reconciler.
	ListUncredited(ctx context.Context) ([]session.FocusSession, error)
}

// CatalogStore persists module definitions and owned module instances. The
// reward engine only reads them; writes exist for provisioning and tests.
type CatalogStore interface {
	CreateDefinition(ctx context.Context, def catalog.Definition) (catalog.Definition, error)
	GetDefinition(ctx context.Context, id string) (catalog.Definition, error)
	ListDefinitions(ctx context.Context) ([]catalog.Definition, error)

	CreateOwnedModule(ctx context.Context, mod catalog.OwnedModule) (catalog.OwnedModule, error)
	GetOwnedModule(ctx context.Context, id string) (catalog.OwnedModule, error)
	ListOwnedModules(ctx context.Context, userID string) ([]catalog.OwnedModule, error)
}

// CreditRequest carries one reward credit through the atomic ledger protocol.
// Deltas are the requested amounts; ceilings are the policy caps the store
// clamps against before applying.
type CreditRequest struct {
	UserID          string
	Reference       string
	Type            string
	Energy          decimal.Decimal
	Dopamine        decimal.Decimal
	EnergyCeiling   decimal.Decimal
	DopamineCeiling decimal.Decimal
	Metadata        map[string]string
}

// LedgerStore persists currency balances and their transaction history.
type LedgerStore interface {
	// CreateBalance provisions the balance row for a user. Provisioning is
	// an external responsibility; the credit path never auto-creates rows.
	CreateBalance(ctx context.Context, bal currency.Balance) (currency.Balance, error)
	GetBalance(ctx context.Context, userID string) (currency.Balance, error)

	// CreditReward applies a credit atomically: serialize on the user's
	// balance row, return the existing transaction when (reference, type)
	// was already credited, otherwise clamp to the ceilings, update balance
	// and lifetime totals, and insert the transaction with post-update
	// snapshots in a single commit. The bool reports whether a new
	// transaction was applied by this call.
	CreditReward(ctx context.Context, req CreditRequest) (currency.Transaction, bool, error)

	GetTransactionByReference(ctx context.Context, reference, txType string) (currency.Transaction, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]currency.Transaction, error)
}
