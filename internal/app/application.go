package app

import (
	"context"
	"fmt"
	"time"

	"github.com/NeuroMod-Labs/reward_engine/internal/app/events"
	assemblysvc "github.com/NeuroMod-Labs/reward_engine/internal/app/services/assembly"
	ledgersvc "github.com/NeuroMod-Labs/reward_engine/internal/app/services/ledger"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/services/rewards"
	sessionsvc "github.com/NeuroMod-Labs/reward_engine/internal/app/services/sessions"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage/memory"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/system"
	"github.com/NeuroMod-Labs/reward_engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Sessions storage.SessionStore
	Catalog  storage.CatalogStore
	Ledger   storage.LedgerStore
}

// Options tunes application construction.
type Options struct {
	// Policy overrides the default reward policy.
	Policy *rewards.Policy

	// ReconcileInterval sets how often orphaned rewards are swept.
	// Non-positive means the reconciler default.
	ReconcileInterval time.Duration

	// EventBufferSize caps the in-memory event log. Non-positive means the
	// ring buffer default.
	EventBufferSize int
}

// Application ties the reward services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Sessions *sessionsvc.Service
	Assembly *assemblysvc.Service
	Ledger   *ledgersvc.Service
	Events   *events.RingBuffer

	Reconciler *ledgersvc.Reconciler
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Sessions == nil {
		stores.Sessions = mem
	}
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}

	policy := rewards.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	manager := system.NewManager()
	eventLog := events.NewRingBuffer(opts.EventBufferSize)

	assemblyService := assemblysvc.New(stores.Catalog, log)
	ledgerService := ledgersvc.New(stores.Ledger, policy, log)
	ledgerService.AttachEvents(eventLog)

	calc := rewards.NewCalculator(policy)
	sessionService := sessionsvc.New(stores.Sessions, assemblyService, calc, ledgerService, log)
	sessionService.AttachEvents(eventLog)

	reconciler := ledgersvc.NewReconciler(stores.Sessions, ledgerService, opts.ReconcileInterval, log)
	if err := manager.Register(reconciler); err != nil {
		return nil, fmt.Errorf("register %s: %w", reconciler.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Sessions:   sessionService,
		Assembly:   assemblyService,
		Ledger:     ledgerService,
		Events:     eventLog,
		Reconciler: reconciler,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
