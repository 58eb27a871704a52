package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/kscript/internal/console"
	"github.com/BadgerOps/kscript/internal/download"
	"github.com/BadgerOps/kscript/internal/jvm"
	"github.com/BadgerOps/kscript/internal/safety"
	"github.com/BadgerOps/kscript/internal/store"
	"github.com/BadgerOps/kscript/internal/toolchain"
)

var (
	fetchAll         bool
	fetchJavaVersion string
	fetchDryRun      bool
	fetchNoProgress  bool
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Pre-fetch the compiler tool dependencies",
		Long: `Fetch the compiler tool dependencies into the local repository so the first
launch does not need the network. Dependencies are taken from the local mirror
when it holds a matching copy, otherwise from the central repository, and are
verified against the tool manifest before they are installed.

By default only the dependencies for the detected Java runtime are fetched.
Use --all to fetch every platform variant, e.g. before copying the local
repository to another machine.`,
		Example: `  kscriptctl fetch
  kscriptctl fetch --all
  kscriptctl fetch --java-version 21 --dry-run`,
		Args: cobra.NoArgs,
		RunE: fetchRun,
	}

	cmd.Flags().BoolVar(&fetchAll, "all", false, "fetch the dependencies of every runtime")
	cmd.Flags().StringVar(&fetchJavaVersion, "java-version", "", "select dependencies for this Java version instead of detecting it")
	cmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "report the network download size; mirror hits are still installed")
	cmd.Flags().BoolVar(&fetchNoProgress, "no-progress", false, "do not draw a progress line")

	return cmd
}

func fetchRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()
	ctx := cmd.Context()

	manifest, err := loadManifest()
	if err != nil {
		return err
	}

	deps := manifest.Dependencies
	if !fetchAll {
		version := fetchJavaVersion
		if version == "" {
			version = globalCfg.Runtime.JavaVersion
		}
		if version == "" {
			detected, derr := jvm.DetectVersion(ctx, jvm.JavaBinary(globalCfg.Runtime.JavaHome))
			if derr != nil {
				log.Warn("could not detect the java version", "error", derr)
			}
			version = detected
		}
		version, _ = jvm.Normalize(version)
		caps := jvm.Capabilities(version, globalCfg.Runtime.ForceJNA)
		log.Info("selecting dependencies", "java_version", version, "ffm", caps.FFM)
		deps = manifest.Select(caps)
	}

	arts := make([]download.Artifact, 0, len(deps))
	for _, d := range deps {
		arts = append(arts, download.Artifact{Path: d.Path, SHA256: d.Digest(), Size: d.Size})
	}

	fetcher := download.NewFetcher(download.Config{
		RepositoryURL: globalCfg.Repository.CentralURL,
		MirrorDir:     globalCfg.Repository.LocalMirror,
		LocalRepo:     globalCfg.Cache.Root,
		RetryCount:    globalCfg.Repository.RetryAttempts,
		HTTPClient: safety.NewHTTPClient(safety.HTTPOptions{
			VerifyTLS: globalCfg.Repository.TLSVerify,
			UserAgent: "kscriptctl/0.1.0",
		}),
		Tracer: console.NewTracer(cmd.ErrOrStderr(), globalCfg.Flags.Trace),
	}, log)
	batch := download.NewBatch(fetcher, log)

	out := cmd.OutOrStdout()

	if fetchDryRun {
		total, err := batch.Plan(ctx, arts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d dependencies, %s to download (of %s)\n",
			len(arts), humanize.Bytes(uint64(total)), humanize.Bytes(uint64(toolchain.TotalSize(deps))))
		return nil
	}

	if !fetchNoProgress && isTerminal(cmd.ErrOrStderr()) {
		batch.ProgressOut = cmd.ErrOrStderr()
		batch.Message = "fetching kotlin_script " + manifest.Version
	}

	results, err := batch.Run(ctx, arts)
	for _, res := range results {
		transferred := "-"
		if res.Source == download.SourceNetwork {
			transferred = humanize.Bytes(uint64(res.Transferred))
		}
		fmt.Fprintf(out, "%-8s %10s  %s\n", res.Source, transferred, res.Artifact.Path)
		recordFetch(res)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d dependencies installed for kotlin_script %s\n", len(results), manifest.Version)
	return nil
}

func recordFetch(res download.Result) {
	if globalStore == nil || res.Source == download.SourcePresent {
		return
	}
	rec := &store.FetchRecord{
		Path:      res.Artifact.Path,
		SHA256:    res.Artifact.SHA256.Hex(),
		Size:      res.Artifact.Size,
		Source:    string(res.Source),
		FetchedAt: time.Now(),
	}
	if err := globalStore.RecordFetch(rec); err != nil {
		slog.Default().Warn("failed to update cache index", "path", res.Artifact.Path, "error", err)
	}
}

// isTerminal reports whether w is a terminal the progress line can redraw.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
