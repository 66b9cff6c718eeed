// Package main provides the shipmachine CLI. It runs governed, budgeted
// engineering tasks against a workspace and inspects the policy, operation
// registry and audit ledger they run under.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shipmachine",
	Short: "Governed engineering task automation",
	Long: `shipmachine turns a task description into a reviewed change.

Every model call goes through policy, budget, data-class and approval checks
and is recorded in the audit ledger. Completed runs leave an evidence bundle
with the diff, test evidence, PR description, risk and rollback notes.

Examples:
  # Run a task
  shipmachine run --task "Add retries to the HTTP client"

  # Preview a run without touching the workspace
  shipmachine run --task "Add retries to the HTTP client" --dry-run

  # Inspect a run's audit trail
  shipmachine audit --run <run-id>`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to shipmachine.yaml (defaults apply when empty)")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
