// Package runtime boots the reward engine: configuration, logging, storage
// selection, migrations, the application wiring, and the operational HTTP
// listener.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/NeuroMod-Labs/reward_engine/internal/app"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/metrics"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/services/rewards"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage/postgres"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/storage/rediscache"
	"github.com/NeuroMod-Labs/reward_engine/internal/config"
	"github.com/NeuroMod-Labs/reward_engine/internal/platform/migrations"
	"github.com/NeuroMod-Labs/reward_engine/pkg/logger"
)

// Application wires core dependencies and manages the process lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	opsSrv *http.Server
	db     *sqlx.DB
	redis  *redis.Client
}

// NewApplication constructs the application from environment configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig constructs the application from an explicit
// configuration. Used by tests.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	policy := rewards.DefaultPolicy()
	if cfg.Reward.PolicyFile != "" {
		loaded, err := rewards.LoadPolicyFile(cfg.Reward.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load reward policy: %w", err)
		}
		policy = loaded
		log.Infof("reward policy loaded from %s", cfg.Reward.PolicyFile)
	}

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		stores.Ledger = rediscache.NewLedger(stores.Ledger, redisClient, ttl, log)
		log.Infof("balance cache enabled via redis at %s", cfg.Redis.Addr)
	}

	application, err := app.New(stores, app.Options{
		Policy:            &policy,
		ReconcileInterval: time.Duration(cfg.Reward.ReconcileIntervalSeconds) * time.Second,
		EventBufferSize:   cfg.Reward.EventBufferSize,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	opsSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		app:    application,
		opsSrv: opsSrv,
		db:     db,
		redis:  redisClient,
	}, nil
}

// App exposes the composed application services.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts the services and the ops listener, blocking until the context is
// cancelled or a server error occurs.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("ops listener on %s", a.opsSrv.Addr)
		if err := a.opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the services and closes external connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.opsSrv.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return app.Stores{}, nil, nil
	}

	db, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		_ = db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{Sessions: store, Catalog: store, Ledger: store}, db, nil
}
