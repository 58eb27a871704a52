package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect the effective kscript configuration: the config file, environment
overrides and command-line flags merged in that order.`,
		Example: `  kscriptctl config show
  kscriptctl config show --config /etc/kscript/kscript.yaml`,
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration in YAML format, as kscript would see
it when started from the same environment.`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Current Configuration:")
	fmt.Fprintln(out, "======================")
	fmt.Fprintln(out, string(data))

	return nil
}
