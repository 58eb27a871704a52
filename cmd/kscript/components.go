package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/BadgerOps/kscript/internal/cache"
	"github.com/BadgerOps/kscript/internal/compiler"
	"github.com/BadgerOps/kscript/internal/config"
	"github.com/BadgerOps/kscript/internal/console"
	"github.com/BadgerOps/kscript/internal/dispatch"
	"github.com/BadgerOps/kscript/internal/download"
	"github.com/BadgerOps/kscript/internal/jvm"
	"github.com/BadgerOps/kscript/internal/launcher"
	"github.com/BadgerOps/kscript/internal/safety"
	"github.com/BadgerOps/kscript/internal/store"
	"github.com/BadgerOps/kscript/internal/toolchain"
)

const userAgent = "kscript/1.0"

// components holds what one launch is wired from.
type components struct {
	launcher *launcher.Launcher
	store    *store.Store
	logger   *slog.Logger
}

// initializeComponents resolves the runtime and the tool manifest and wires
// the launcher. The cache index is optional: when it cannot be opened the
// launch goes ahead without it.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdin io.Reader, stdout, stderr io.Writer) (*components, error) {
	manifest, err := toolchain.Resolve(cfg.Tool.Version, cfg.Tool.ManifestFile)
	if err != nil {
		return nil, &config.Error{Field: "tool", Reason: err.Error()}
	}

	c := &components{logger: logger}
	var runtimes runtimeCache
	if path := cfg.IndexPath(); path != "" {
		st, err := store.New(path, logger)
		if err != nil {
			logger.Warn("cache index unavailable", "path", path, "error", err)
		} else {
			c.store = st
			runtimes = st
		}
	}

	java := jvm.JavaBinary(cfg.Runtime.JavaHome)
	version := runtimeVersion(ctx, cfg, java, runtimes, logger)
	caps := jvm.Capabilities(version, cfg.Runtime.ForceJNA)
	logger.Debug("runtime", "java", java, "version", version, "ffm", caps.FFM)
	if major, ok := jvm.Major(version); ok && major < compiler.MinRuntimeMajor {
		logger.Warn(fmt.Sprintf("java %s cannot compile scripts, java %d or newer is required", version, compiler.MinRuntimeMajor))
	}

	tracer := console.NewTracer(stderr, cfg.Flags.Trace)
	layout := cache.NewLayout(cfg.Cache.Root, manifest.Version)

	fetcher := download.NewFetcher(download.Config{
		RepositoryURL: cfg.Repository.CentralURL,
		MirrorDir:     cfg.Repository.LocalMirror,
		LocalRepo:     cfg.Cache.Root,
		RetryCount:    cfg.Repository.RetryAttempts,
		HTTPClient: safety.NewHTTPClient(safety.HTTPOptions{
			VerifyTLS: cfg.Repository.TLSVerify,
			UserAgent: userAgent,
		}),
		Tracer: tracer,
	}, logger)

	l := &launcher.Launcher{
		Layout:         layout,
		Manifest:       manifest,
		Capabilities:   caps,
		RuntimeVersion: version,
		Fetcher:        fetcher,
		Compiler: &compiler.JVM{
			Java:      java,
			MainClass: manifest.CompilerMain,
			Flags:     cfg.Flags.String(),
			Env:       cfg.ToolEnv(),
			Stderr:    stderr,
			Tracer:    tracer,
			Logger:    logger,
		},
		Runner: &dispatch.JavaRunner{
			Java:   java,
			Stdin:  stdin,
			Stdout: stdout,
			Stderr: stderr,
		},
		Flags:       cfg.Flags,
		Tracer:      tracer,
		Logger:      logger,
		ProgressOut: stderr,
	}

	if c.store != nil {
		l.Index = c.store
	}

	c.launcher = l
	return c, nil
}

// runtimeCache remembers detected versions per java binary.
type runtimeCache interface {
	GetRuntime(javaPath string) (*store.RuntimeRecord, error)
	RecordRuntime(rec *store.RuntimeRecord) error
}

// runtimeVersion returns the configured or detected runtime version,
// falling back to the default when neither is usable. runtimes may be nil.
func runtimeVersion(ctx context.Context, cfg *config.Config, java string, runtimes runtimeCache, logger *slog.Logger) string {
	raw := cfg.Runtime.JavaVersion
	if raw == "" {
		raw = detectVersion(ctx, java, runtimes, logger)
	}
	version, ok := jvm.Normalize(raw)
	if !ok {
		logger.Warn(fmt.Sprintf("invalid java version %q, assuming %s", raw, jvm.DefaultVersion))
	}
	return version
}

// detectVersion asks java for its version unless the index already holds
// it for the same binary.
func detectVersion(ctx context.Context, java string, runtimes runtimeCache, logger *slog.Logger) string {
	path, err := jvm.Locate(java)
	if err != nil {
		logger.Warn("could not detect the java version", "java", java, "error", err)
		return ""
	}
	info, statErr := os.Stat(path)
	if runtimes != nil && statErr == nil {
		rec, err := runtimes.GetRuntime(path)
		if err == nil && rec.Size == info.Size() && rec.ModTime.Equal(info.ModTime()) {
			logger.Debug("java version from cache index", "java", path, "version", rec.Version)
			return rec.Version
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("cache index lookup failed", "java", path, "error", err)
		}
	}

	version, err := jvm.DetectVersion(ctx, path)
	if err != nil {
		logger.Warn("could not detect the java version", "java", path, "error", err)
		return ""
	}
	if runtimes != nil && statErr == nil {
		rec := &store.RuntimeRecord{JavaPath: path, Size: info.Size(), ModTime: info.ModTime(), Version: version}
		if err := runtimes.RecordRuntime(rec); err != nil {
			logger.Warn("cache index update failed", "java", path, "error", err)
		}
	}
	return version
}

func (c *components) close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error("failed to close cache index", "error", err)
		}
	}
}
