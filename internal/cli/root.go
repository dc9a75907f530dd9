// Package cli implements the falcon command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "falcon",
	Short:   "Coordination core for teams of AI agents",
	Long:    `Falcon coordinates concurrent AI agents working toward a shared goal: a task graph with review gates, exclusive artifact locks, and shared memory.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
