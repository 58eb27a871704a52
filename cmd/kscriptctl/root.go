package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/kscript/internal/cache"
	"github.com/BadgerOps/kscript/internal/config"
	"github.com/BadgerOps/kscript/internal/store"
	"github.com/BadgerOps/kscript/internal/toolchain"
)

var (
	// Global flags
	cfgPath   string
	cacheRoot string
	logLevel  string
	logFormat string
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore *store.Store
)

// env is the process environment, replaced in tests.
var env = os.LookupEnv

// initializeComponents opens the cache index. A disabled index leaves
// globalStore nil.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	dbPath := globalCfg.IndexPath()
	if dbPath == "" {
		logger.Debug("cache index disabled")
		return nil
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open cache index: %w", err)
	}
	globalStore = st
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":     true,
		"version":  true,
		"show":     true,
		"verify":   true,
		"manifest": true,
		"versions": true,
		"config":   true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close cache index", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kscriptctl",
		Short: "Inspect and maintain the kscript cache",
		Long: `kscriptctl manages what kscript keeps in the local repository: the compiled
script cache, the compiler tool dependencies and the cache index that records
recent launches.`,
		Example: `  kscriptctl cache list
  kscriptctl cache prune --older-than 720h --max-size 500MB
  kscriptctl fetch
  kscriptctl verify
  kscriptctl history --limit 20`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.Resolve(cfgPath, env)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cacheRoot != "" {
				cfg.Cache.Root = cacheRoot
			}
			// The command line always wins over file and environment.
			cfg.Log.Level = logLevel
			cfg.Log.Format = logFormat
			if err := cfg.Validate(); err != nil {
				return err
			}
			globalCfg = cfg

			logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
			slog.SetDefault(logger)
			logger.Debug("config loaded", "path", path, "cache_root", cfg.Cache.Root)

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&cacheRoot, "cache-root", "", "override the local repository")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newCacheCmd(),
		newFetchCmd(),
		newVerifyCmd(),
		newHistoryCmd(),
		newManifestCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadManifest resolves the configured tool manifest
func loadManifest() (*toolchain.Manifest, error) {
	m, err := toolchain.Resolve(globalCfg.Tool.Version, globalCfg.Tool.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool manifest: %w", err)
	}
	return m, nil
}

// cacheLayout returns the layout of the configured tool version
func cacheLayout() cache.Layout {
	return cache.NewLayout(globalCfg.Cache.Root, globalCfg.Tool.Version)
}
