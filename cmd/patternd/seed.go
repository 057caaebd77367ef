package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedWorkspace string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed baseline principles for a workspace",
	Long: `Insert the fixed baseline principles into a workspace's principle
tier. Principles already present are skipped, so seeding is idempotent.

Examples:
  patternd seed --workspace acme`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedWorkspace, "workspace", "", "workspace to seed (required)")
	_ = seedCmd.MarkFlagRequired("workspace")
}

func runSeed(cmd *cobra.Command, args []string) error {
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

	inserted, err := svc.promotion.SeedBaselines(ctx, seedWorkspace)
	if err != nil {
		a.logger.Error(ctx, "seeding baselines failed",
			zap.String("workspace_id", seedWorkspace),
			zap.Error(err))
		return err
	}

	fmt.Printf("Seeded %d baseline principle(s) for workspace %s\n", inserted, seedWorkspace)
	return nil
}
