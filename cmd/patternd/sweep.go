package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance cycle and exit",
	Long: `Run a single maintenance cycle: expire or promote due alerts,
decay-sweep every scope with stored activity, and re-evaluate paused
kill switches whose cooldown elapsed.

The same rate limit as the daemon applies, so running sweep alongside a
live daemon cannot thrash the store.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	svc, err := buildServices(a, a.cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	a.logger.Info(ctx, "running manual maintenance cycle")

	if err := svc.runner.RunCycle(ctx); err != nil {
		a.logger.Error(ctx, "maintenance cycle failed", zap.Error(err))
		return err
	}

	return nil
}
