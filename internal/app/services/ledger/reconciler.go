package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/events"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/metrics"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/system"
	"github.com/NeuroMod-Labs/reward_engine/pkg/logger"
)

// Reconciler sweeps for completed sessions whose reward was never credited,
// for example when the process crashed between the terminal transition and
// the ledger commit, and re-drives the credit. Safe to run alongside the live
// completion path because credits are idempotent on the session id.
type Reconciler struct {
	sessions storage.SessionStore
	service  *Service
	interval time.Duration
	minAge   time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*Reconciler)(nil)

// NewReconciler creates a reconciler sweeping at the given interval. A
// non-positive interval defaults to 30 seconds.
func NewReconciler(sessions storage.SessionStore, service *Service, interval time.Duration, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("ledger-reconciler")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		sessions:    sessions,
		service:     service,
		interval:    interval,
		minAge:      10 * time.Second,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (r *Reconciler) Name() string { return "ledger-reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("ledger reconciler started")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *Reconciler) tick(ctx context.Context) {
	orphans, err := r.sessions.ListUncredited(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list uncredited sessions failed")
		return
	}

	now := time.Now()
	for _, sess := range orphans {
		// Give the live completion path a moment to finish its own credit.
		if now.Sub(sess.EndedAt) < r.minAge {
			continue
		}
		if !r.shouldAttempt(sess.ID, now) {
			continue
		}

		metrics.RecordReconcilerRetry()
		tx, applied, err := r.service.CreditSessionReward(ctx, sess)
		if err != nil {
			r.log.WithError(err).Warnf("reconcile credit for session %s failed", sess.ID)
			r.scheduleNext(sess.ID, r.interval)
			continue
		}
		if applied {
			r.log.Infof("reconciled orphaned reward for session %s", sess.ID)
			r.service.events.Log(events.Event{
				Type:      events.EventRewardReconciled,
				UserID:    sess.UserID,
				SessionID: sess.ID,
				Reference: tx.Reference,
				Message:   "orphaned reward credited by reconciler",
			})
		}
		r.clearSchedule(sess.ID)
	}
}

// Sweep runs one reconciliation pass immediately. Used by tests and by the
// runtime right after startup.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.tick(ctx)
}

func (r *Reconciler) shouldAttempt(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := r.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (r *Reconciler) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = r.interval
	}
	r.mu.Lock()
	r.nextAttempt[id] = time.Now().Add(after)
	r.mu.Unlock()
}

func (r *Reconciler) clearSchedule(id string) {
	r.mu.Lock()
	delete(r.nextAttempt, id)
	r.mu.Unlock()
}
