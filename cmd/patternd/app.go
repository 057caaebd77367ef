package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/killswitch"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/maintenance"
	"github.com/fyrsmithlabs/patternd/internal/promotion"
	"github.com/fyrsmithlabs/patternd/internal/store"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

// app holds the process-lifetime dependencies shared by every command:
// configuration, logger, telemetry, and the open store. Policy-scoped
// services are built separately so a config reload can rebuild them
// without reopening the database.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	store  *store.Store
}

// newApp loads configuration and initializes logging, telemetry, and the
// store, in that order.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	dbPath, err := config.ExpandHome(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving storage path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	st, err := store.Open(dbPath, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		tel:    tel,
		store:  st,
	}, nil
}

// Close releases the process-lifetime dependencies in reverse order of
// construction. Errors are best-effort on shutdown.
func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Warn(ctx, "closing store failed")
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed")
	}
	_ = a.logger.Sync()
}

// engineServices bundles the policy-scoped services the daemon drives.
// A config reload discards one bundle and builds another against the same
// store.
type engineServices struct {
	killswitch killswitch.Service
	promotion  promotion.Service
	runner     *maintenance.Runner
}

// buildServices constructs the maintenance-facing service graph from one
// policy snapshot.
func buildServices(a *app, cfg *config.Config) (*engineServices, error) {
	engine, err := confidence.NewEngine(cfg.Policy.ConfidenceParams())
	if err != nil {
		return nil, fmt.Errorf("building confidence engine: %w", err)
	}

	ks, err := killswitch.NewService(cfg.Policy.KillSwitchPolicy(), a.store, a.logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("building killswitch service: %w", err)
	}

	promo, err := promotion.NewService(cfg.Policy.PromotionPolicy(), a.store, engine, a.logger.Underlying())
	if err != nil {
		_ = ks.Close()
		return nil, fmt.Errorf("building promotion service: %w", err)
	}

	runner, err := maintenance.NewRunner(promo, ks, a.store, a.logger.Underlying(),
		maintenance.WithInterval(cfg.Maintenance.Interval),
		maintenance.WithSweepLimit(cfg.Maintenance.SweepsPerMinute, cfg.Maintenance.SweepBurst),
	)
	if err != nil {
		_ = promo.Close()
		_ = ks.Close()
		return nil, fmt.Errorf("building maintenance runner: %w", err)
	}

	return &engineServices{
		killswitch: ks,
		promotion:  promo,
		runner:     runner,
	}, nil
}

// Close stops the runner and closes the services. Safe on a half-built
// bundle.
func (s *engineServices) Close() {
	if s == nil {
		return
	}
	if s.runner != nil {
		_ = s.runner.Stop()
	}
	if s.promotion != nil {
		_ = s.promotion.Close()
	}
	if s.killswitch != nil {
		_ = s.killswitch.Close()
	}
}
