package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Invocation is one run of a script's entry point.
type Invocation struct {
	ClassPath  []string // artifact first, then dependencies in declared order
	EntryPoint string
	Args       []string
	ScriptName string
	Flags      string
}

// Runner starts the runtime for an Invocation. A non-zero exit of the
// script is reported as *ExitError.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// JavaRunner runs entry points in a child java process with the standard
// streams passed through.
type JavaRunner struct {
	Java   string // executable, "java" when empty
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    []string // nil inherits the environment
}

// Command builds the command line for inv.
func (r *JavaRunner) Command(ctx context.Context, inv Invocation) *exec.Cmd {
	java := r.Java
	if java == "" {
		java = "java"
	}
	args := []string{
		"-Dkotlin_script.name=" + inv.ScriptName,
		"-Dkotlin_script.flags=" + inv.Flags,
		"-cp", strings.Join(inv.ClassPath, string(os.PathListSeparator)),
		inv.EntryPoint,
	}
	args = append(args, inv.Args...)

	cmd := exec.CommandContext(ctx, java, args...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.Env = r.Env
	return cmd
}

// Run executes inv and waits for it to exit.
func (r *JavaRunner) Run(ctx context.Context, inv Invocation) error {
	err := r.Command(ctx, inv).Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// Killed by a signal.
			code = 1
		}
		return &ExitError{Code: code}
	}
	return fmt.Errorf("starting java: %w", err)
}
