package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "workbenchd",
		Short: "Agent Workbench daemon - local backend for AI coding agents",
		Long: `Agent Workbench daemon is the local backend of the workbench desktop app.
It runs coding agents in isolated git worktrees, tracks tasks and attempts
in SQLite, talks to GitHub/GitLab for the merge-request lifecycle, and
streams everything to the shell over a loopback HTTP API.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
