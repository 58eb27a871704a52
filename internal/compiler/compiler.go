// Package compiler invokes the external script compiler. The compiler
// writes the artifact and its metadata into the cache and reports the
// artifact path.
package compiler

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Request describes one compilation.
type Request struct {
	ScriptPath   string
	Script       []byte
	ScriptHash   string // hex SHA-256 of Script
	MetadataPath string // where the compiler writes the metadata
	ClassPath    []string
}

// Compiler turns a script into a cached artifact and returns its path.
type Compiler interface {
	Compile(ctx context.Context, req Request) (string, error)
}

// Error reports a failed compilation.
type Error struct {
	ScriptPath string
	ExitCode   int // -1 when the compiler did not exit normally
	Err        error
}

func (e *Error) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("compiling %s: compiler exited with status %d", e.ScriptPath, e.ExitCode)
	}
	return fmt.Sprintf("compiling %s: %v", e.ScriptPath, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Tracer receives shell-like command echoes when tracing is enabled.
type Tracer interface {
	Trace(args ...string)
}

// BridgeFile is the name of the source-launcher program written next to
// the cache metadata. It loads the compiler class from the tool class path
// and calls its static compileScript(Path, byte[], String, Path) method.
const BridgeFile = "CompileScript.java"

//go:embed CompileScript.java
var bridgeSource []byte

// MinRuntimeMajor is the oldest java that can run BridgeFile in
// source-file mode.
const MinRuntimeMajor = 11

// JVM runs the tool compiler in a child java process:
//
//	java -Dkotlin_script.compiler=<main> -Dkotlin_script.flags=<flags> \
//	    -cp <tool class path> CompileScript.java <script path> <script hash> <metadata path>
//
// with the script bytes on stdin. The last line printed on stdout is the
// artifact path.
type JVM struct {
	Java      string // executable, "java" when empty
	MainClass string
	Flags     string    // value of kotlin_script.flags
	Env       []string  // added to the inherited environment
	Stderr    io.Writer // compiler diagnostics, discarded when nil
	Tracer    Tracer
	Logger    *slog.Logger
}

// Command builds the compiler command line for req. bridge is the path of
// the installed BridgeFile.
func (c *JVM) Command(ctx context.Context, req Request, bridge string) *exec.Cmd {
	java := c.Java
	if java == "" {
		java = "java"
	}
	cmd := exec.CommandContext(ctx, java,
		"-Dkotlin_script.compiler="+c.MainClass,
		"-Dkotlin_script.flags="+c.Flags,
		"-cp", strings.Join(req.ClassPath, string(os.PathListSeparator)),
		bridge, req.ScriptPath, req.ScriptHash, req.MetadataPath)
	cmd.Stdin = bytes.NewReader(req.Script)
	cmd.Stderr = c.Stderr
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

// Compile implements Compiler.
func (c *JVM) Compile(ctx context.Context, req Request) (string, error) {
	if c.MainClass == "" {
		return "", &Error{ScriptPath: req.ScriptPath, ExitCode: -1, Err: errors.New("no compiler main class")}
	}
	dir := filepath.Dir(req.MetadataPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	bridge, err := InstallBridge(dir)
	if err != nil {
		return "", err
	}

	if c.Tracer != nil {
		c.Tracer.Trace("compileScript", req.ScriptPath, "byte["+strconv.Itoa(len(req.Script))+"]",
			req.ScriptHash, req.MetadataPath)
	}

	cmd := c.Command(ctx, req, bridge)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		cerr := &Error{ScriptPath: req.ScriptPath, ExitCode: -1, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		return "", cerr
	}

	artifact := lastLine(stdout.String())
	if artifact == "" {
		return "", &Error{ScriptPath: req.ScriptPath, ExitCode: -1, Err: errors.New("compiler reported no artifact")}
	}
	if !filepath.IsAbs(artifact) {
		artifact = filepath.Join(dir, artifact)
	}
	c.Logger.Debug("compiled script", "script", req.ScriptPath, "artifact", artifact)
	return artifact, nil
}

// InstallBridge writes BridgeFile into dir unless an identical copy is
// already there, and returns its path.
func InstallBridge(dir string) (string, error) {
	path := filepath.Join(dir, BridgeFile)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, bridgeSource) {
		return path, nil
	}
	tmp, err := os.CreateTemp(dir, "."+BridgeFile+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("installing compiler bridge: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(bridgeSource); err != nil {
		tmp.Close()
		return "", fmt.Errorf("installing compiler bridge: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("installing compiler bridge: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("installing compiler bridge: %w", err)
	}
	return path, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
