package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "claude-flow",
	Short: "Swarm coordination for Claude Code agents",
	Long: `claude-flow coordinates a swarm of Claude Code agents on a shared
objective: it decomposes the objective into dependency-ordered tasks,
dispatches them to registered agents, retries transient failures,
verifies results against declared commands, and persists the unified
swarm state across sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
