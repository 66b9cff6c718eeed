package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/governance"
)

var (
	policyRole  string
	policyOp    string
	policyModel string
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyCommandCmd)
	policyCmd.AddCommand(policyPathCmd)
	policyCmd.AddCommand(policyRolesCmd)

	policyCheckCmd.Flags().StringVar(&policyRole, "role", "", "Role to check (required)")
	policyCheckCmd.Flags().StringVar(&policyOp, "op", "", "Operation id to check (required)")
	policyCheckCmd.Flags().StringVar(&policyModel, "model", "", "Model to check against the role's model allowlist")
	_ = policyCheckCmd.MarkFlagRequired("role")
	_ = policyCheckCmd.MarkFlagRequired("op")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Query the governance policy",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a role may run an operation",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, engine, err := loadEngine()
		if err != nil {
			return err
		}

		allowed := engine.IsOperationAllowed(policyRole, policyOp)
		reason := "allowed by role policy"
		if !allowed {
			reason = fmt.Sprintf("role %s is not granted %s", policyRole, policyOp)
		}
		if allowed && len(cfg.RBAC) > 0 {
			idx, err := governance.NewRoleIndex(cfg.RBAC)
			if err != nil {
				return fmt.Errorf("invalid rbac index: %w", err)
			}
			if !idx.Allows(policyRole, policyOp) {
				allowed = false
				reason = fmt.Sprintf("rbac index does not grant %s to %s", policyOp, policyRole)
			}
		}
		if allowed && policyModel != "" && !engine.IsModelAllowed(policyRole, policyModel) {
			allowed = false
			reason = fmt.Sprintf("model %s is not allowed for role %s", policyModel, policyRole)
		}

		printDecision(allowed, reason)
		return nil
	},
}

var policyCommandCmd = &cobra.Command{
	Use:   "command <command>",
	Short: "Check a shell command against the allowlist and dangerous signatures",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		_, engine, err := loadEngine()
		if err != nil {
			return err
		}
		command := strings.Join(args, " ")

		allowlisted := engine.IsCommandAllowed(command)
		reason, dangerous := governance.DangerousReason(command)

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleLight)
		tw.AppendRow(table.Row{"Command", command})
		tw.AppendRow(table.Row{"Allowlisted", allowlisted})
		tw.AppendRow(table.Row{"Dangerous", dangerous})
		if dangerous {
			tw.AppendRow(table.Row{"Signature", reason})
		}
		tw.Render()
		return nil
	},
}

var policyPathCmd = &cobra.Command{
	Use:   "path <path>",
	Short: "Check whether a workspace path is writable",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		_, engine, err := loadEngine()
		if err != nil {
			return err
		}
		allowed := engine.IsPathAllowed(args[0])
		reason := "matches allowlists.paths"
		if !allowed {
			reason = "not in allowlists.paths or matched by allowlists.denied_paths"
		}
		printDecision(allowed, reason)
		return nil
	},
}

var policyRolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List roles with their operations and tools",
	RunE: func(_ *cobra.Command, _ []string) error {
		_, engine, err := loadEngine()
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"Role", "Operations", "Tools"})
		for _, role := range engine.Roles() {
			var tools []string
			for _, category := range governance.ToolCategories {
				if engine.IsToolAllowed(role, category) {
					tools = append(tools, string(category))
				}
			}
			tw.AppendRow(table.Row{role, strings.Join(engine.AllowedOperations(role), ", "), strings.Join(tools, ", ")})
		}
		tw.Render()
		return nil
	},
}

func loadEngine() (*config.Config, *governance.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	engine, err := governance.NewEngine(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid policy: %w", err)
	}
	return cfg, engine, nil
}

func printDecision(allowed bool, reason string) {
	if allowed {
		fmt.Printf("✓ ALLOWED: %s\n", reason)
		return
	}
	fmt.Printf("✗ DENIED: %s\n", reason)
}
