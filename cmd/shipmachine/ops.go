package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lelandsequel/shipmachine/pkg/config"
	"github.com/lelandsequel/shipmachine/pkg/operations"
)

func init() {
	rootCmd.AddCommand(opsCmd)
	opsCmd.AddCommand(opsListCmd)
	opsCmd.AddCommand(opsShowCmd)
}

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Inspect the operation registry",
}

var opsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered operations",
	RunE: func(_ *cobra.Command, _ []string) error {
		registry, err := loadRegistry()
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"ID", "Version", "Inputs", "Required Output", "Description"})
		for _, id := range registry.IDs() {
			spec, _ := registry.Get(id)
			tw.AppendRow(table.Row{
				spec.ID,
				spec.Version,
				strings.Join(spec.Inputs, ", "),
				strings.Join(spec.Output.Required, ", "),
				spec.Description,
			})
		}
		tw.Render()
		return nil
	},
}

var opsShowCmd = &cobra.Command{
	Use:   "show <operation-id>",
	Short: "Print an operation template and schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		registry, err := loadRegistry()
		if err != nil {
			return err
		}
		spec, ok := registry.Get(args[0])
		if !ok {
			return fmt.Errorf("operation not found: %s", args[0])
		}

		fmt.Printf("%s (v%d)\n%s\n\n", spec.ID, spec.Version, spec.Description)
		fmt.Println(spec.Template)
		fmt.Printf("Placeholders: %s\n\n", strings.Join(operations.Placeholders(spec.Template), ", "))
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"Field", "Type", "Required"})
		required := make(map[string]bool, len(spec.Output.Required))
		for _, f := range spec.Output.Required {
			required[f] = true
		}
		for name, t := range spec.Output.Fields {
			tw.AppendRow(table.Row{name, t, required[name]})
		}
		tw.SortBy([]table.SortBy{{Name: "Field", Mode: table.Asc}})
		tw.Render()
		return nil
	},
}

func loadRegistry() (*operations.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return operations.NewRegistry(cfg.Operations.Packs...)
}
