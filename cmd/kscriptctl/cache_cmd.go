package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/kscript/internal/cache"
	"github.com/BadgerOps/kscript/internal/console"
	"github.com/BadgerOps/kscript/internal/store"
)

var (
	pruneOlderThan time.Duration
	pruneMaxSize   string
	pruneDryRun    bool
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune compiled scripts",
		Long: `Inspect and prune the compiled script cache. Entries of every tool version
found below the cache directory are listed.`,
		Example: `  kscriptctl cache list
  kscriptctl cache prune --older-than 720h`,
	}

	cmd.AddCommand(
		newCacheListCmd(),
		newCachePruneCmd(),
	)

	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached artifacts and metadata",
		Args:  cobra.NoArgs,
		RunE:  cacheListRun,
	}
}

func cacheListRun(cmd *cobra.Command, args []string) error {
	layout := cacheLayout()
	entries, err := cache.Scan(layout)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := console.NewStyles(out)

	if len(entries) == 0 {
		fmt.Fprintf(out, "No cache entries in %s\n", layout.BaseDir())
		return nil
	}

	lastUsed := lastUsedByPath()

	fmt.Fprintln(out, styles.Header.Render(fmt.Sprintf("%-9s %-12s %-8s %-16s %10s  %s",
		"Kind", "Tool", "Runtime", "Hash", "Size", "Last Used")))
	fmt.Fprintln(out, strings.Repeat("-", 76))

	var total int64
	for _, e := range entries {
		total += e.Size
		used := humanize.Time(e.ModTime)
		if t, ok := lastUsed[e.Path]; ok {
			used = humanize.Time(t)
		}
		runtime := e.RuntimeVersion
		if runtime == "" {
			runtime = "-"
		}
		fmt.Fprintf(out, "%-9s %-12s %-8s %-16s %10s  %s\n",
			e.Kind, e.ToolVersion, runtime, shortHash(e.Hash), humanize.Bytes(uint64(e.Size)), used)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Faint.Render(fmt.Sprintf("%d entries, %s", len(entries), humanize.Bytes(uint64(total)))))
	return nil
}

// lastUsedByPath reads artifact use times from the cache index, if any.
func lastUsedByPath() map[string]time.Time {
	used := make(map[string]time.Time)
	if globalStore == nil {
		return used
	}
	recs, err := globalStore.ListArtifacts(0)
	if err != nil {
		slog.Default().Warn("failed to read cache index", "error", err)
		return used
	}
	for _, r := range recs {
		used[r.ArtifactPath] = r.LastUsedAt
	}
	return used
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	if h == "" {
		return "-"
	}
	return h
}

func newCachePruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old cache entries",
		Long: `Remove cache entries not modified within --older-than, then the oldest
entries until the cache fits in --max-size. Leftover temporary files of
interrupted writes are always removed.`,
		Example: `  kscriptctl cache prune --older-than 720h
  kscriptctl cache prune --max-size 500MB --dry-run`,
		Args: cobra.NoArgs,
		RunE: cachePruneRun,
	}

	cmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "remove entries older than this duration")
	cmd.Flags().StringVar(&pruneMaxSize, "max-size", "", "shrink the cache to at most this size (e.g. 500MB, 1GiB)")
	cmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be removed without removing it")

	return cmd
}

func cachePruneRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	opts := cache.PruneOptions{OlderThan: pruneOlderThan, DryRun: pruneDryRun}
	if pruneMaxSize != "" {
		n, err := cache.ParseSize(pruneMaxSize)
		if err != nil {
			return err
		}
		opts.MaxSize = n
	}

	entries, err := cache.Scan(cacheLayout())
	if err != nil {
		return err
	}

	removed, err := cache.Prune(entries, opts)
	out := cmd.OutOrStdout()
	verb := "Removed"
	if pruneDryRun {
		verb = "Would remove"
	}

	var freed int64
	for _, e := range removed {
		freed += e.Size
		fmt.Fprintf(out, "%s %s\n", verb, e.Path)
		if pruneDryRun || globalStore == nil || e.Kind != cache.KindArtifact {
			continue
		}
		if derr := globalStore.DeleteArtifact(e.Path); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			log.Warn("failed to update cache index", "path", e.Path, "error", derr)
		}
	}
	fmt.Fprintf(out, "%s %d of %d entries, %s\n", verb, len(removed), len(entries), humanize.Bytes(uint64(freed)))

	return err
}
