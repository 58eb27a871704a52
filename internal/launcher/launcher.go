// Package launcher runs a script: it executes a cached compilation when one
// exists and otherwise fetches the compiler tool, compiles the script and
// executes the fresh artifact.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/kscript/internal/cache"
	"github.com/BadgerOps/kscript/internal/compiler"
	"github.com/BadgerOps/kscript/internal/config"
	"github.com/BadgerOps/kscript/internal/dispatch"
	"github.com/BadgerOps/kscript/internal/download"
	"github.com/BadgerOps/kscript/internal/fingerprint"
	"github.com/BadgerOps/kscript/internal/metadata"
	"github.com/BadgerOps/kscript/internal/progress"
	"github.com/BadgerOps/kscript/internal/store"
	"github.com/BadgerOps/kscript/internal/toolchain"
)

// ProgressMessage is shown while the compiler tool is fetched.
const ProgressMessage = "fetching kotlin_script compiler"

// Tracer receives shell-like command echoes when tracing is enabled.
type Tracer interface {
	Trace(args ...string)
}

// Launcher holds everything one launch needs. All fields except Tracer,
// Index and ProgressOut are required.
type Launcher struct {
	Layout         cache.Layout
	Manifest       *toolchain.Manifest
	Capabilities   toolchain.Capabilities
	RuntimeVersion string // normalized, empty when unknown
	Fetcher        *download.Fetcher
	Compiler       compiler.Compiler
	Runner         dispatch.Runner
	Flags          config.Flags
	Tracer         Tracer
	Index          Index
	Logger         *slog.Logger

	// ProgressOut receives the fetch progress line when Flags.Progress is
	// set. Tracing disables progress.
	ProgressOut io.Writer
	// NewReporter overrides the progress reporter, mainly for tests.
	NewReporter func(io.Writer) *progress.Reporter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run launches script with args. A script that ran and failed yields a
// *dispatch.ExitError carrying its status.
func (l *Launcher) Run(ctx context.Context, script *Script, args []string) error {
	run := &store.LaunchRun{
		LaunchID:  uuid.NewString(),
		Script:    script.Path,
		Stage:     store.StageCached,
		StartTime: l.now(),
	}
	logger := l.Logger.With("launch_id", run.LaunchID, "script", script.Path)
	l.index(logger, "create launch run", func(ix Index) error { return ix.CreateLaunchRun(run) })

	err := l.launch(ctx, logger, script, args, run)

	run.EndTime = l.now()
	run.ExitCode = ExitCode(err)
	if err != nil {
		run.ErrorMessage = err.Error()
	}
	l.index(logger, "finish launch run", func(ix Index) error { return ix.FinishLaunchRun(run) })
	return err
}

func (l *Launcher) launch(ctx context.Context, logger *slog.Logger, script *Script, args []string, run *store.LaunchRun) error {
	if !l.Flags.Force {
		err := l.tryCached(ctx, logger, script, args)
		if err == nil {
			return nil
		}
		var exitErr *dispatch.ExitError
		if errors.As(err, &exitErr) {
			run.Stage = store.StageExecute
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug("no usable cached artifact", "class", Classify(err), "error", err)
	}

	run.Stage = store.StageFetch
	classPath, err := l.fetchTool(ctx, logger)
	if err != nil {
		return err
	}

	run.Stage = store.StageCompile
	metaPath := l.Layout.MetadataPath(script.SHA256)
	artifact, err := l.Compiler.Compile(ctx, compiler.Request{
		ScriptPath:   script.Path,
		Script:       script.Data,
		ScriptHash:   script.SHA256,
		MetadataPath: metaPath,
		ClassPath:    classPath,
	})
	if err != nil {
		return err
	}

	run.Stage = store.StageExecute
	md, err := l.readMetadata(metaPath)
	if err != nil {
		return err
	}
	l.recordArtifact(logger, script, artifact)
	return l.execute(ctx, script, md, artifact, args)
}

// tryCached executes the artifact of a previous compilation.
func (l *Launcher) tryCached(ctx context.Context, logger *slog.Logger, script *Script, args []string) error {
	md, err := l.readMetadata(l.Layout.MetadataPath(script.SHA256))
	if err != nil {
		return err
	}
	includes, err := fingerprint.Resolve(script.Dir(), md.Includes)
	if err != nil {
		return err
	}
	fp := fingerprint.Compute(script.SHA256, script.Name(), includes)

	prober := &cache.Prober{Layout: l.Layout}
	if l.Tracer != nil {
		prober.Tracer = l.Tracer
	}
	artifact, err := prober.Probe(fp, l.RuntimeVersion)
	if err != nil {
		return err
	}

	logger.Debug("using cached artifact", "artifact", artifact)
	l.index(logger, "touch artifact", func(ix Index) error {
		return ix.TouchArtifact(artifact, script.Path, l.now())
	})
	return l.execute(ctx, script, md, artifact, args)
}

// fetchTool installs the compiler tool and returns its class path.
func (l *Launcher) fetchTool(ctx context.Context, logger *slog.Logger) ([]string, error) {
	deps := l.Manifest.Select(l.Capabilities)
	arts := make([]download.Artifact, 0, len(deps))
	for _, d := range deps {
		arts = append(arts, download.Artifact{Path: d.Path, SHA256: d.Digest(), Size: d.Size})
	}

	batch := download.NewBatch(l.Fetcher, logger)
	batch.Message = ProgressMessage
	if l.NewReporter != nil {
		batch.NewReporter = l.NewReporter
	}
	if l.Flags.Progress && !l.Flags.Trace {
		batch.ProgressOut = l.ProgressOut
	}

	results, err := batch.Run(ctx, arts)
	if err != nil {
		return nil, err
	}

	classPath := make([]string, 0, len(results))
	for _, res := range results {
		classPath = append(classPath, res.Path)
		if res.Source == download.SourcePresent {
			continue
		}
		rec := &store.FetchRecord{
			Path:      res.Artifact.Path,
			SHA256:    res.Artifact.SHA256.Hex(),
			Size:      res.Artifact.Size,
			Source:    string(res.Source),
			FetchedAt: l.now(),
		}
		l.index(logger, "record fetch", func(ix Index) error { return ix.RecordFetch(rec) })
	}
	return classPath, nil
}

func (l *Launcher) readMetadata(path string) (*metadata.Metadata, error) {
	if l.Tracer != nil {
		l.Tracer.Trace("read_metadata", path)
	}
	return metadata.ReadFile(path)
}

func (l *Launcher) execute(ctx context.Context, script *Script, md *metadata.Metadata, artifact string, args []string) error {
	entry, err := md.ResolveEntryPoint(script.Name())
	if err != nil {
		return fmt.Errorf("resolving entry point of %s: %w", script.Path, err)
	}
	d := &dispatch.Dispatcher{
		RepoRoot:   l.Layout.Root,
		Runner:     l.Runner,
		Logger:     l.Logger,
		ScriptName: script.Path,
		Flags:      l.Flags.String(),
	}
	if l.Tracer != nil {
		d.Tracer = l.Tracer
	}
	return d.Execute(ctx, dispatch.Request{
		Artifact:     artifact,
		Dependencies: md.Dependencies,
		EntryPoint:   entry,
		Args:         args,
	})
}

func (l *Launcher) recordArtifact(logger *slog.Logger, script *Script, artifact string) {
	rec := &store.ArtifactRecord{ScriptPath: script.Path, ArtifactPath: artifact, CompiledAt: l.now()}
	if e, ok := l.Layout.Describe(artifact); ok && e.Kind == cache.KindArtifact {
		rec.Fingerprint = e.Hash
		rec.RuntimeVersion = e.RuntimeVersion
	}
	l.index(logger, "record artifact", func(ix Index) error { return ix.RecordArtifact(rec) })
}

func (l *Launcher) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
