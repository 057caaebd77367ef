package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

var (
	purgeWorkspace string
	purgeProject   string
	purgeYes       bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Cascade-delete a project's data",
	Long: `Delete every row a project owns: patterns, occurrences, alerts,
injection logs, outcome history, and kill-switch state. Workspace-scoped
principles survive.

This is irreversible. The command prompts for confirmation unless --yes
is given.

Examples:
  patternd purge --workspace acme --project billing
  patternd purge --workspace acme --project billing --yes`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&purgeWorkspace, "workspace", "", "workspace owning the project (required)")
	purgeCmd.Flags().StringVar(&purgeProject, "project", "", "project to delete (required)")
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "skip the confirmation prompt")
	_ = purgeCmd.MarkFlagRequired("workspace")
	_ = purgeCmd.MarkFlagRequired("project")
}

func runPurge(cmd *cobra.Command, args []string) error {
	scope := pattern.Scope{WorkspaceID: purgeWorkspace, ProjectID: purgeProject}
	if err := scope.Validate(); err != nil {
		return err
	}

	if !purgeYes {
		fmt.Printf("This permanently deletes all data for project %q in workspace %q.\n", purgeProject, purgeWorkspace)
		fmt.Print("Type 'yes' to continue: ")

		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := logging.WithScope(cmd.Context(), scope)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	if err := a.store.DeleteProject(ctx, scope); err != nil {
		a.logger.Error(ctx, "purge failed", zap.Error(err))
		return err
	}

	a.logger.Info(ctx, "project purged")
	fmt.Printf("Purged project %s/%s\n", purgeWorkspace, purgeProject)
	return nil
}
