// Patternd is the attribution and pattern-lifecycle engine for confirmed
// code-review findings.
//
// The binary wraps the engine with a small operational surface:
//
//	patternd run      Start the maintenance daemon
//	patternd sweep    Run one maintenance cycle and exit
//	patternd seed     Seed baseline principles for a workspace
//	patternd purge    Cascade-delete a project's data
//	patternd version  Show version information
//
// Configuration is loaded from ~/.config/patternd/config.yaml, overridden
// by PATTERND_* environment variables. See internal/config for details.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag value; empty means the default path.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patternd",
	Short: "Attribution and pattern-lifecycle engine for code-review findings",
	Long: `patternd turns confirmed code-review findings into deduplicated,
confidence-scored patterns, promotes recurring ones through lifecycle tiers,
and pauses itself per scope when its own precision degrades.

The daemon performs the periodic upkeep the engine defers to an external
scheduler: alert expiry, confidence decay sweeps, and kill-switch resume
evaluation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (default ~/.config/patternd/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("patternd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
