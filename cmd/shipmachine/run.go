package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lelandsequel/shipmachine/pkg/orchestrator"
)

var (
	runTask            string
	runDryRun          bool
	runRole            string
	runBranch          string
	runRollback        bool
	runApproved        bool
	runAttributes      map[string]string
	runJSON            bool
	runMetricsTextfile string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTask, "task", "t", "", "Task description (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Stage writes in memory and skip commands")
	runCmd.Flags().StringVar(&runRole, "role", "", "Role to run as (defaults to run.default_role)")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "Check out this branch first and commit to it when the run completes")
	runCmd.Flags().BoolVar(&runRollback, "rollback-on-failure", false, "Reset the workspace when the run aborts or fails")
	runCmd.Flags().BoolVar(&runApproved, "approved", false, "Mark operations that require approval as approved")
	runCmd.Flags().StringToStringVar(&runAttributes, "attr", nil, "Call attribute for approval rules, e.g. --attr target_env=production")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the execution report as JSON")
	runCmd.Flags().StringVar(&runMetricsTextfile, "metrics-textfile", "", "Write run metrics in Prometheus text format to this file")
	_ = runCmd.MarkFlagRequired("task")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a task end to end",
	Long: `Scope, plan and execute a task, then write the evidence bundle.

The command exits non-zero when the run aborts on a budget ceiling or fails.

Examples:
  # Run with the default role
  shipmachine run --task "Add request logging"

  # Dry run as a reviewer
  shipmachine run --task "Add request logging" --dry-run --role reviewer

  # Production change with sign-off
  shipmachine run --task "Bump timeouts" --attr target_env=production --approved`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	verbosity := orchestrator.ParseVerbosity(a.cfg.Run.Verbosity)
	console := orchestrator.NewConsole(verbosity)
	if runJSON {
		console = orchestrator.NewPlainConsole(orchestrator.VerbosityQuiet, os.Stderr)
	}

	exec, err := orchestrator.NewExecutor(orchestrator.Options{
		Config:            a.cfg,
		Engine:            a.engine,
		Bridge:            a.bridge,
		Role:              runRole,
		DryRun:            runDryRun,
		Branch:            runBranch,
		RollbackOnFailure: runRollback,
		Attributes:        runAttributes,
		Approved:          runApproved,
		Console:           console,
		Logger:            a.logger,
		Metrics:           a.metrics,
	})
	if err != nil {
		return err
	}

	stopReload := a.watchReload()
	report, runErr := exec.Run(cmd.Context(), runTask)
	stopReload()

	if runMetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(runMetricsTextfile, a.registerer); err != nil {
			a.logger.Warn("failed to write metrics", zap.String("path", runMetricsTextfile), zap.Error(err))
		}
	}

	if runJSON && report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	}
	return runErr
}
