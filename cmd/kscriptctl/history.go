package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/kscript/internal/console"
)

var (
	historyScript string
	historyLimit  int
	historyFailed bool
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent launches",
		Long: `Show recent launches recorded in the cache index: which stage each launch
reached, how it ended and how long it took. A launch that compiled its script
shows the compile stage only when compiling failed.`,
		Example: `  kscriptctl history
  kscriptctl history --script ./deploy.main.kts --limit 5
  kscriptctl history --failed`,
		Args: cobra.NoArgs,
		RunE: historyRun,
	}

	cmd.Flags().StringVar(&historyScript, "script", "", "only show launches of this script path")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of launches to show")
	cmd.Flags().BoolVar(&historyFailed, "failed", false, "show only failed launches")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("cache index disabled (cache.index is %q)", globalCfg.Cache.Index)
	}

	runs, err := globalStore.ListLaunchRuns(historyScript, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := console.NewStyles(out)

	fmt.Fprintln(out, styles.Header.Render(fmt.Sprintf("%-8s %-16s %-8s %5s %9s  %s",
		"Launch", "Started", "Stage", "Exit", "Duration", "Script")))
	fmt.Fprintln(out, strings.Repeat("-", 76))

	shown := 0
	for _, r := range runs {
		if historyFailed && r.ExitCode == 0 {
			continue
		}
		shown++

		duration := "running"
		if !r.EndTime.IsZero() {
			duration = r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String()
		}
		fmt.Fprintf(out, "%-8s %-16s %-8s %5d %9s  %s\n",
			shortID(r.LaunchID), humanize.Time(r.StartTime), r.Stage, r.ExitCode, duration, r.Script)
		if r.ErrorMessage != "" && r.ExitCode != 0 {
			fmt.Fprintln(out, styles.Faint.Render("         "+r.ErrorMessage))
		}
	}

	if shown == 0 {
		fmt.Fprintln(out, "No launches recorded")
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
