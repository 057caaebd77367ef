package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/config"
)

// shutdownTimeout caps the graceful shutdown of telemetry and services.
const shutdownTimeout = 10 * time.Second

var watchConfig bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the maintenance daemon",
	Long: `Start the patternd maintenance daemon.

The daemon runs one maintenance cycle per configured interval: alert expiry
and promotion, per-scope confidence decay sweeps, and kill-switch resume
evaluation. It blocks until SIGINT or SIGTERM.

With --watch, the config file is watched and policy changes are applied
live by rebuilding the service graph; the store stays open across reloads.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&watchConfig, "watch", false,
		"watch the config file and apply policy changes live")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	a.logger.Info(ctx, "starting patternd",
		zap.String("version", version),
		zap.String("storage_path", a.cfg.Storage.Path),
		zap.Duration("maintenance_interval", a.cfg.Maintenance.Interval),
		zap.Bool("watch_config", watchConfig),
	)

	var (
		mu  sync.Mutex
		svc *engineServices
	)

	svc, err = buildServices(a, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		svc.Close()
	}()

	if err := svc.runner.Start(); err != nil {
		return err
	}

	if watchConfig {
		path := configPath
		if path == "" {
			if err := config.EnsureConfigDir(); err != nil {
				return err
			}
			if path, err = config.DefaultPath(); err != nil {
				return err
			}
		}

		// Rebuild the service graph per reload; the store stays open. A
		// failed rebuild keeps the previous services running.
		watcher, err := config.NewWatcher(path, a.logger.Underlying(), func(cfg *config.Config) {
			mu.Lock()
			defer mu.Unlock()

			next, err := buildServices(a, cfg)
			if err != nil {
				a.logger.Warn(ctx, "policy reload failed, keeping previous services", zap.Error(err))
				return
			}
			if err := next.runner.Start(); err != nil {
				a.logger.Warn(ctx, "restarting maintenance runner failed", zap.Error(err))
				next.Close()
				return
			}

			svc.Close()
			svc = next
			a.logger.Info(ctx, "policy applied from reloaded config")
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	<-ctx.Done()
	a.logger.Info(ctx, "shutdown signal received")

	return nil
}
