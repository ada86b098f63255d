// Package ledger applies session rewards to user balances and exposes the
// resulting transaction history. The store provides atomicity; this service
// adds validation, policy ceilings, events, and metrics.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/events"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/metrics"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/services/rewards"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
	"github.com/NeuroMod-Labs/reward_engine/pkg/logger"
)

// ErrUserNotFound is returned when the user has no provisioned balance.
var ErrUserNotFound = errors.New("user has no reward balance")

// ErrSessionNotCompleted is returned when a credit is attempted for a session
// that is not in the completed status.
var ErrSessionNotCompleted = errors.New("session is not completed")

const defaultTransactionPageSize = 50

// Service is the ledger application service.
type Service struct {
	store  storage.LedgerStore
	policy rewards.Policy
	log    *logger.Logger
	events events.Log
}

// New creates the ledger service.
func New(store storage.LedgerStore, policy rewards.Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		store:  store,
		policy: policy,
		log:    log,
		events: events.NoOpLog{},
	}
}

// AttachEvents wires an event log. Passing nil restores the no-op default.
func (s *Service) AttachEvents(log events.Log) {
	if log == nil {
		s.events = events.NoOpLog{}
		return
	}
	s.events = log
}

// CreditSessionReward credits the reward amounts stored on a completed
// session. The operation is idempotent on the session id: replays return the
// original transaction without touching the balance. The bool reports whether
// this call applied a new transaction.
func (s *Service) CreditSessionReward(ctx context.Context, sess session.FocusSession) (currency.Transaction, bool, error) {
	if sess.ID == "" || sess.UserID == "" {
		return currency.Transaction{}, false, fmt.Errorf("session id and user id are required")
	}
	if sess.Status != session.StatusCompleted {
		return currency.Transaction{}, false, fmt.Errorf("session %s: %w", sess.ID, ErrSessionNotCompleted)
	}

	req := storage.CreditRequest{
		UserID:          sess.UserID,
		Reference:       sess.ID,
		Type:            currency.TypeFocusSessionReward,
		Energy:          sess.EnergyGenerated,
		Dopamine:        sess.DopamineGenerated,
		EnergyCeiling:   s.policy.EnergyCeiling,
		DopamineCeiling: s.policy.DopamineCeiling,
		Metadata: map[string]string{
			"planned_minutes": strconv.Itoa(sess.PlannedMinutes),
			"actual_minutes":  strconv.Itoa(sess.ActualMinutes),
			"interruptions":   strconv.Itoa(sess.Interruptions),
		},
	}
	if sess.Category != "" {
		req.Metadata["category"] = sess.Category
	}

	start := time.Now()
	tx, applied, err := s.store.CreditReward(ctx, req)
	if err != nil {
		metrics.RecordCredit("failed", time.Since(start))
		if errors.Is(err, storage.ErrNotFound) {
			return currency.Transaction{}, false, fmt.Errorf("user %s: %w", sess.UserID, ErrUserNotFound)
		}
		return currency.Transaction{}, false, err
	}

	if !applied {
		metrics.RecordCredit("replayed", time.Since(start))
		s.log.WithField("session_id", sess.ID).Info("credit replayed from existing transaction")
		return tx, false, nil
	}
	metrics.RecordCredit("applied", time.Since(start))

	s.events.Log(events.Event{
		Type:      events.EventRewardCredited,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Reference: tx.Reference,
		Message:   fmt.Sprintf("credited %s energy and %s dopamine", tx.EnergyDelta, tx.DopamineDelta),
	})

	// A credit smaller than requested means a ceiling clipped it.
	if tx.EnergyDelta.LessThan(req.Energy) || tx.DopamineDelta.LessThan(req.Dopamine) {
		metrics.RecordClamp()
		s.events.Log(events.Event{
			Type:      events.EventRewardClamped,
			Severity:  events.SeverityWarning,
			UserID:    sess.UserID,
			SessionID: sess.ID,
			Reference: tx.Reference,
			Message:   "credit reduced by balance ceiling",
			Metadata: map[string]string{
				"energy_requested":   req.Energy.String(),
				"energy_applied":     tx.EnergyDelta.String(),
				"dopamine_requested": req.Dopamine.String(),
				"dopamine_applied":   tx.DopamineDelta.String(),
			},
		})
		s.log.WithField("session_id", sess.ID).Warn("credit reduced by balance ceiling")
	}

	return tx, true, nil
}

// GetBalance returns the user's current balance.
func (s *Service) GetBalance(ctx context.Context, userID string) (currency.Balance, error) {
	bal, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return currency.Balance{}, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
		}
		return currency.Balance{}, err
	}
	return bal, nil
}

// GetTransaction looks up the credit recorded for a session, if any.
func (s *Service) GetTransaction(ctx context.Context, sessionID string) (currency.Transaction, error) {
	return s.store.GetTransactionByReference(ctx, sessionID, currency.TypeFocusSessionReward)
}

// ListTransactions returns a page of the user's transaction history, newest
// first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]currency.Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTransactions(ctx, userID, limit, offset)
}
