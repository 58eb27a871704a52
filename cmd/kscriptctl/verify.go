package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/kscript/internal/digest"
	"github.com/BadgerOps/kscript/internal/safety"
)

var verifyRemove bool

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify installed tool dependencies against the manifest",
		Long: `Verify the compiler tool dependencies installed in the local repository.
Every file listed in the tool manifest is hashed and compared with its
recorded SHA-256. Files that are not installed are reported but do not fail
the verification; kscript fetches them when needed.

With --remove, corrupted files are deleted so the next launch fetches them
again.`,
		Example: `  kscriptctl verify
  kscriptctl verify --remove`,
		Args: cobra.NoArgs,
		RunE: verifyRun,
	}

	cmd.Flags().BoolVar(&verifyRemove, "remove", false, "delete files whose checksum does not match")

	return cmd
}

func verifyRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	manifest, err := loadManifest()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying kotlin_script %s in %s\n\n", manifest.Version, globalCfg.Cache.Root)

	var valid, missing, invalid int
	for _, dep := range manifest.Dependencies {
		path, err := safety.SafeJoinUnder(globalCfg.Cache.Root, dep.Path)
		if err != nil {
			return err
		}

		actual, err := digest.File(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				missing++
				fmt.Fprintf(out, "  missing   %s\n", dep.Path)
				continue
			}
			invalid++
			fmt.Fprintf(out, "  ERROR     %s: %v\n", dep.Path, err)
			continue
		}

		if actual != dep.Digest() {
			invalid++
			fmt.Fprintf(out, "  MISMATCH  %s\n", dep.Path)
			fmt.Fprintf(out, "      Expected: %s\n", dep.Digest())
			fmt.Fprintf(out, "      Actual:   %s\n", actual)
			if verifyRemove {
				if err := os.Remove(path); err != nil {
					log.Error("failed to remove corrupted file", "path", path, "error", err)
				} else {
					log.Info("removed corrupted file", "path", path)
				}
			}
			continue
		}
		valid++
		fmt.Fprintf(out, "  ok        %s\n", dep.Path)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== VERIFICATION SUMMARY ===")
	fmt.Fprintf(out, "Valid:   %d\n", valid)
	fmt.Fprintf(out, "Missing: %d\n", missing)
	fmt.Fprintf(out, "Invalid: %d\n", invalid)

	if invalid > 0 {
		return fmt.Errorf("verification failed: %d invalid files", invalid)
	}
	return nil
}
