// Package dispatch runs the entry point of a compiled script artifact with
// its dependencies on the class path.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BadgerOps/kscript/internal/safety"
)

// Tracer receives shell-like command echoes when tracing is enabled.
type Tracer interface {
	Trace(args ...string)
}

// Request names what to run.
type Request struct {
	Artifact     string
	Dependencies []string // relative to the local repository
	EntryPoint   string
	Args         []string
}

// Dispatcher checks a Request and hands it to a Runner.
type Dispatcher struct {
	RepoRoot   string
	Runner     Runner
	Tracer     Tracer // may be nil
	Logger     *slog.Logger
	ScriptName string
	Flags      string
}

// Execute resolves every dependency, verifies the artifact and runs the
// entry point. Errors are *DependencyError, *LoadError, *ExitError or a
// runner start failure.
func (d *Dispatcher) Execute(ctx context.Context, req Request) error {
	classPath := make([]string, 0, len(req.Dependencies)+1)
	classPath = append(classPath, req.Artifact)
	for _, dep := range req.Dependencies {
		path, err := safety.SafeJoinUnder(d.RepoRoot, dep)
		if err != nil {
			return &DependencyError{Dependency: dep, Err: err}
		}
		if !safety.Readable(path) {
			return &DependencyError{Dependency: dep, Path: path}
		}
		classPath = append(classPath, path)
	}

	if err := VerifyArtifact(req.Artifact, req.EntryPoint); err != nil {
		return &LoadError{Artifact: req.Artifact, EntryPoint: req.EntryPoint, Err: err}
	}

	if d.Tracer != nil {
		d.Tracer.Trace(req.EntryPoint + ".main([" + strings.Join(req.Args, ", ") + "])")
	}
	d.Logger.Debug("executing script", "artifact", req.Artifact, "entry_point", req.EntryPoint,
		"dependencies", len(req.Dependencies))

	return d.Runner.Run(ctx, Invocation{
		ClassPath:  classPath,
		EntryPoint: req.EntryPoint,
		Args:       req.Args,
		ScriptName: d.ScriptName,
		Flags:      d.Flags,
	})
}
