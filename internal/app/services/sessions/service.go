// Package sessions implements the focus-session state machine: planned →
// active ⇄ paused → completed | abandoned. Completion computes and persists
// the reward amounts before crediting, so a crash between the two steps is
// recoverable by the ledger reconciler.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/events"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/metrics"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/services/assembly"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/services/ledger"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/services/rewards"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
	"github.com/NeuroMod-Labs/reward_engine/pkg/logger"
)

// ErrInvalidDuration is returned when a planned duration is out of range.
var ErrInvalidDuration = errors.New("planned duration out of range")

// ErrInvalidTransition is returned when an operation does not apply to the
// session's current status. Racing transitions on the same session surface it
// too: exactly one writer wins.
var ErrInvalidTransition = errors.New("invalid session transition")

// ErrNotOwner is returned when the caller is not the session's user.
var ErrNotOwner = errors.New("caller does not own session")

// CreateInput carries the arguments for creating a focus session.
type CreateInput struct {
	UserID         string
	TaskID         string
	Category       string
	PlannedMinutes int
	Assembly       *catalog.AssemblySnapshot
}

// Service is the session application service.
type Service struct {
	store      storage.SessionStore
	aggregator *assembly.Service
	calc       *rewards.Calculator
	ledger     *ledger.Service
	log        *logger.Logger
	events     events.Log
	now        func() time.Time
}

// New creates the session service.
func New(store storage.SessionStore, aggregator *assembly.Service, calc *rewards.Calculator, ledgerSvc *ledger.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	return &Service{
		store:      store,
		aggregator: aggregator,
		calc:       calc,
		ledger:     ledgerSvc,
		log:        log,
		events:     events.NoOpLog{},
		now:        func() time.Time { return time.Now().UTC() },
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

// AttachClock overrides the time source. Used by tests.
func (s *Service) AttachClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create registers a new session in the planned status. The assembly
// snapshot, when present, is validated against the user's catalog and frozen
// onto the session; later configuration edits do not change it.
func (s *Service) Create(ctx context.Context, in CreateInput) (session.FocusSession, error) {
	if in.UserID == "" {
		return session.FocusSession{}, fmt.Errorf("user id is required")
	}
	max := s.calc.Policy().MaxPlannedMinutes
	if in.PlannedMinutes < 1 || (max > 0 && in.PlannedMinutes > max) {
		return session.FocusSession{}, fmt.Errorf("planned minutes %d: %w", in.PlannedMinutes, ErrInvalidDuration)
	}
	if err := s.aggregator.Validate(ctx, in.UserID, in.Assembly); err != nil {
		return session.FocusSession{}, err
	}

	sess, err := s.store.CreateSession(ctx, session.FocusSession{
		UserID:         in.UserID,
		TaskID:         in.TaskID,
		Category:       in.Category,
		PlannedMinutes: in.PlannedMinutes,
		Status:         session.StatusPlanned,
		Assembly:       in.Assembly,
	})
	if err != nil {
		return session.FocusSession{}, err
	}

	metrics.RecordSessionTransition("create")
	s.events.Log(events.Event{
		Type:      events.EventSessionCreated,
		UserID:    sess.UserID,
		SessionID: sess.ID,
	})
	return sess, nil
}

// Get returns the session, enforcing ownership.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (session.FocusSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.FocusSession{}, err
	}
	if sess.UserID != userID {
		return session.FocusSession{}, fmt.Errorf("session %s: %w", sessionID, ErrNotOwner)
	}
	return sess, nil
}

// List returns the user's sessions, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]session.FocusSession, error) {
	return s.store.ListSessions(ctx, userID)
}

// Start moves a planned session to active and records the start timestamp.
func (s *Service) Start(ctx context.Context, sessionID, userID string) (session.FocusSession, error) {
	sess, err := s.owned(ctx, sessionID, userID, session.StatusPlanned)
	if err != nil {
		return session.FocusSession{}, err
	}

	sess.Status = session.StatusActive
	sess.StartedAt = s.now()
	return s.persistTransition(ctx, sess, session.StatusPlanned, "start", events.EventSessionStarted)
}

// Pause moves an active session to paused and counts the interruption.
func (s *Service) Pause(ctx context.Context, sessionID, userID string) (session.FocusSession, error) {
	sess, err := s.owned(ctx, sessionID, userID, session.StatusActive)
	if err != nil {
		return session.FocusSession{}, err
	}

	sess.Status = session.StatusPaused
	sess.Interruptions++
	return s.persistTransition(ctx, sess, session.StatusActive, "pause", events.EventSessionPaused)
}

// Resume moves a paused session back to active.
func (s *Service) Resume(ctx context.Context, sessionID, userID string) (session.FocusSession, error) {
	sess, err := s.owned(ctx, sessionID, userID, session.StatusPaused)
	if err != nil {
		return session.FocusSession{}, err
	}

	sess.Status = session.StatusActive
	return s.persistTransition(ctx, sess, session.StatusPaused, "resume", events.EventSessionResumed)
}

// Complete moves an active or paused session to completed, computes the
// reward amounts, persists them with the terminal transition, then credits
// the ledger. A credit failure does not roll the session back; the reward
// reads as pending until the reconciler re-drives it.
func (s *Service) Complete(ctx context.Context, sessionID, userID string, actualMinutesOverride int) (session.FocusSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.FocusSession{}, err
	}
	if sess.UserID != userID {
		return session.FocusSession{}, fmt.Errorf("session %s: %w", sessionID, ErrNotOwner)
	}
	if sess.Status != session.StatusActive && sess.Status != session.StatusPaused {
		return session.FocusSession{}, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, ErrInvalidTransition)
	}
	prior := sess.Status
	now := s.now()

	actual := actualMinutesOverride
	if actual < 1 {
		actual = int(now.Sub(sess.StartedAt).Minutes())
		if actual < 0 {
			actual = 0
		}
	}

	// Resolve the frozen configuration before any mutation so a tampered
	// snapshot rejects the whole operation.
	rate, err := s.aggregator.Rate(ctx, sess.UserID, sess.Assembly)
	if err != nil {
		return session.FocusSession{}, err
	}

	sess.Status = session.StatusCompleted
	sess.ActualMinutes = actual
	sess.EndedAt = now
	sess.EnergyGenerated = s.calc.Energy(rewards.EnergyInput{
		PlannedMinutes: sess.PlannedMinutes,
		ActualMinutes:  actual,
		Interruptions:  sess.Interruptions,
		Category:       sess.Category,
	})
	sess.DopamineGenerated = s.calc.Dopamine(rate, actual)

	sess, err = s.persistTransition(ctx, sess, prior, "complete", events.EventSessionCompleted)
	if err != nil {
		return session.FocusSession{}, err
	}

	if _, _, err := s.ledger.CreditSessionReward(ctx, sess); err != nil {
		// The session stays completed; the reconciler retries the credit.
		s.log.WithError(err).Warnf("credit for session %s failed; reward pending", sess.ID)
		s.events.Log(events.Event{
			Type:      events.EventRewardPending,
			Severity:  events.SeverityWarning,
			UserID:    sess.UserID,
			SessionID: sess.ID,
			Error:     err.Error(),
			Message:   "reward pending until reconciled",
		})
	}
	return sess, nil
}

// Abandon moves any non-terminal session to abandoned. No reward is computed
// and nothing reaches the ledger.
func (s *Service) Abandon(ctx context.Context, sessionID, userID string) (session.FocusSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.FocusSession{}, err
	}
	if sess.UserID != userID {
		return session.FocusSession{}, fmt.Errorf("session %s: %w", sessionID, ErrNotOwner)
	}
	if sess.Status.Terminal() {
		return session.FocusSession{}, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, ErrInvalidTransition)
	}
	prior := sess.Status
	now := s.now()

	sess.Status = session.StatusAbandoned
	sess.EndedAt = now
	if !sess.StartedAt.IsZero() {
		if elapsed := int(now.Sub(sess.StartedAt).Minutes()); elapsed > 0 {
			sess.ActualMinutes = elapsed
		}
	}
	return s.persistTransition(ctx, sess, prior, "abandon", events.EventSessionAbandoned)
}

func (s *Service) owned(ctx context.Context, sessionID, userID string, want session.Status) (session.FocusSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.FocusSession{}, err
	}
	if sess.UserID != userID {
		return session.FocusSession{}, fmt.Errorf("session %s: %w", sessionID, ErrNotOwner)
	}
	if sess.Status != want {
		return session.FocusSession{}, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, ErrInvalidTransition)
	}
	return sess, nil
}

func (s *Service) persistTransition(ctx context.Context, sess session.FocusSession, expect session.Status, transition string, eventType events.Type) (session.FocusSession, error) {
	updated, err := s.store.UpdateSession(ctx, sess, expect)
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return session.FocusSession{}, fmt.Errorf("session %s changed concurrently: %w", sess.ID, ErrInvalidTransition)
		}
		return session.FocusSession{}, err
	}

	metrics.RecordSessionTransition(transition)
	s.events.Log(events.Event{
		Type:      eventType,
		UserID:    updated.UserID,
		SessionID: updated.ID,
	})
	return updated, nil
}
