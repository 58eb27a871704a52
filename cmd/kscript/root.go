package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/kscript/internal/config"
	"github.com/BadgerOps/kscript/internal/dispatch"
	"github.com/BadgerOps/kscript/internal/launcher"
)

const usage = "usage: kscript /path/to/script [ARG...]"

// errUsage is returned when no script is given.
var errUsage = errors.New(usage)

// env is the process environment, replaced in tests.
var env = os.LookupEnv

// NewRootCmd creates and returns the root command. Every argument after the
// script path belongs to the script, so flag parsing is disabled.
func NewRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kscript SCRIPT [ARG...]",
		Short: "Compile and run a kotlin script, caching the result",
		Long: `kscript runs a script through the kotlin_script compiler. Compiled scripts
are cached in the local repository and reused as long as the script and its
includes are unchanged. The compiler itself is fetched from the configured
repository on first use and verified against its recorded SHA-256.

Launcher switches are read from KSCRIPT_FLAGS: -x traces, -f forces a
recompilation, -P shows fetch progress.`,
		Example: `  kscript hello.kt
  KSCRIPT_FLAGS=-x kscript build.main.kts clean`,
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || args[0] == "" {
				return errUsage
			}
			return launchRun(cmd.Context(), args[0], args[1:], stdin, stdout, stderr)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

// run executes the launcher and returns the process exit status.
func run(ctx context.Context, args []string) int {
	cmd := NewRootCmd(os.Stdin, os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	return exitStatus(cmd.ExecuteContext(ctx), os.Stderr)
}

// exitStatus reports err on stderr and maps it to an exit status. A script
// that ran keeps its own status and prints nothing extra.
func exitStatus(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, usage)
		return 2
	}
	var exitErr *dispatch.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintf(stderr, "kscript: %v\n", err)
	}
	return launcher.ExitCode(err)
}

func launchRun(ctx context.Context, scriptPath string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, cfgPath, err := config.Resolve("", env)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(stderr)
	slog.SetDefault(logger)
	logger.Debug("config loaded", "path", cfgPath, "cache_root", cfg.Cache.Root, "flags", cfg.Flags.String())

	script, err := launcher.ReadScript(scriptPath)
	if err != nil {
		return err
	}

	c, err := initializeComponents(ctx, cfg, logger, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	defer c.close()

	return c.launcher.Run(ctx, script, args)
}
