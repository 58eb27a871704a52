package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/kscript/internal/console"
	"github.com/BadgerOps/kscript/internal/toolchain"
)

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect tool manifests",
		Long: `Inspect the compiler tool manifests: the dependencies kscript fetches for
a tool version together with their checksums and sizes.`,
	}

	cmd.AddCommand(
		newManifestShowCmd(),
		newManifestVersionsCmd(),
	)

	return cmd
}

func newManifestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the configured tool manifest",
		Example: `  kscriptctl manifest show
  KSCRIPT_TOOL_VERSION=2.2.21.32 kscriptctl manifest show`,
		Args: cobra.NoArgs,
		RunE: manifestShowRun,
	}
}

func manifestShowRun(cmd *cobra.Command, args []string) error {
	m, err := loadManifest()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := console.NewStyles(out)

	fmt.Fprintf(out, "Version:  %s\n", m.Version)
	fmt.Fprintf(out, "Compiler: %s\n", m.CompilerMain)
	if globalCfg.Tool.ManifestFile != "" {
		fmt.Fprintf(out, "Source:   %s\n", globalCfg.Tool.ManifestFile)
	} else {
		fmt.Fprintln(out, "Source:   built in")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, styles.Header.Render(fmt.Sprintf("%-6s %10s  %-16s %s", "When", "Size", "SHA-256", "Path")))
	fmt.Fprintln(out, strings.Repeat("-", 76))
	for _, d := range m.Dependencies {
		when := d.When
		if when == "" {
			when = "always"
		}
		fmt.Fprintf(out, "%-6s %10s  %-16s %s\n", when, humanize.Bytes(uint64(d.Size)), d.SHA256[:16], d.Path)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Faint.Render(fmt.Sprintf("%d dependencies, %s",
		len(m.Dependencies), humanize.Bytes(uint64(toolchain.TotalSize(m.Dependencies))))))
	return nil
}

func newManifestVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the built in tool versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, v := range toolchain.Versions() {
				marker := " "
				if v == globalCfg.Tool.Version {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, v)
			}
			return nil
		},
	}
}
