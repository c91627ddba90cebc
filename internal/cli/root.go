// Package cli implements the xpcore command-line interface using Cobra.
// Commands open the configured store directly, so they work with or
// without a running daemon.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "xpcore",
	Short: "xpcore: XP, levels, streaks, and badges",
	Long: `xpcore is a gamification engine.
It records XP in an idempotent ledger, derives levels from an exponential
curve, tracks daily streaks, and grants catalog badges exactly once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
