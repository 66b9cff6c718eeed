package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lelandsequel/shipmachine/pkg/audit"
	"github.com/lelandsequel/shipmachine/pkg/config"
)

var (
	auditRunID        string
	auditFailuresOnly bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&auditRunID, "run", "", "Run id to show (all runs when empty)")
	auditCmd.Flags().BoolVar(&auditFailuresOnly, "failures", false, "Only show denied or failed calls")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show audit ledger events",
	Long: `Show the mediated calls recorded in the audit ledger.

Examples:
  # Events of one run
  shipmachine audit --run 6f1c...

  # Every denied or failed call
  shipmachine audit --failures`,
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ledger, err := audit.Open(audit.Backend(cfg.Audit.Backend), workspacePath(cfg, cfg.Audit.Path))
	if err != nil {
		return fmt.Errorf("failed to open audit ledger: %w", err)
	}
	defer ledger.Close()

	events, err := ledger.Events(cmd.Context(), auditRunID)
	if err != nil {
		return fmt.Errorf("failed to read audit ledger: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No audit events found")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Time", "Step", "Operation", "Role", "Model", "Class", "Tokens", "Duration", "Result"})
	for _, e := range events {
		if auditFailuresOnly && e.Success {
			continue
		}
		result := "ok"
		if !e.Success {
			result = "FAILED: " + e.FailureReason
		}
		model := e.Model
		if e.IsMock {
			model += " (mock)"
		}
		tw.AppendRow(table.Row{
			e.Timestamp.Format("15:04:05"),
			e.StepIndex,
			e.OperationID,
			e.Role,
			model,
			e.DataClass,
			e.TokensUsed,
			fmt.Sprintf("%dms", e.DurationMS),
			result,
		})
	}
	tw.Render()

	s := audit.Summarize(events)
	fmt.Printf("\nCalls: %d  Failures: %d  Tokens: %d  Mock: %d\n", s.Calls, s.Failures, s.TokensUsed, s.MockCalls)
	if len(s.Roles) > 0 {
		fmt.Printf("Roles: %s\n", strings.Join(s.Roles, ", "))
	}
	return nil
}
