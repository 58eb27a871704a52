package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/kscript/internal/safety"
	"github.com/BadgerOps/kscript/internal/toolchain"
)

// DefaultCentralURL is the public repository tool dependencies come from.
const DefaultCentralURL = "https://repo1.maven.org/maven2"

// IndexOff disables the cache index.
const IndexOff = "off"

// Config is the top-level configuration
type Config struct {
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Tool       ToolConfig       `yaml:"tool"`
	Flags      Flags            `yaml:"flags"`
	Log        LogConfig        `yaml:"log"`
}

// RepositoryConfig holds where tool dependencies are fetched from
type RepositoryConfig struct {
	CentralURL    string `yaml:"central_url"`
	LocalMirror   string `yaml:"local_mirror"`
	TLSVerify     bool   `yaml:"tls_verify"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

// CacheConfig holds the local repository settings
type CacheConfig struct {
	// Root is the local repository. Tool dependencies and compiled
	// scripts are stored below it.
	Root string `yaml:"root"`
	// Index is the sqlite cache index. Empty selects a file in the cache
	// directory, "off" disables it.
	Index string `yaml:"index"`
}

// RuntimeConfig selects the Java runtime
type RuntimeConfig struct {
	JavaHome string `yaml:"java_home"`
	// JavaVersion skips detection when set.
	JavaVersion string `yaml:"java_version"`
	// ForceJNA keeps the JNA based terminal support on runtimes that
	// offer FFM.
	ForceJNA bool `yaml:"force_jna"`
}

// ToolConfig selects the compiler tool manifest
type ToolConfig struct {
	Version      string `yaml:"version"`
	ManifestFile string `yaml:"manifest_file"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Flags are the launcher switches, usually given as a flag string such as
// "-x -P" in KSCRIPT_FLAGS.
type Flags struct {
	Trace    bool `yaml:"trace"`
	Force    bool `yaml:"force"`
	Progress bool `yaml:"progress"`
}

// ParseFlags reads a flag string: -x traces, -f forces recompilation and
// -P shows fetch progress.
func ParseFlags(s string) Flags {
	return Flags{
		Trace:    strings.Contains(s, "-x"),
		Force:    strings.Contains(s, "-f"),
		Progress: strings.Contains(s, "-P"),
	}
}

// String renders f as a flag string ParseFlags reads back.
func (f Flags) String() string {
	var parts []string
	if f.Trace {
		parts = append(parts, "-x")
	}
	if f.Force {
		parts = append(parts, "-f")
	}
	if f.Progress {
		parts = append(parts, "-P")
	}
	return strings.Join(parts, " ")
}

// ToolEnv returns the environment the compiler tool reads its repository
// settings from, so it resolves and writes into the same cache.
func (c *Config) ToolEnv() []string {
	env := []string{
		"M2_CENTRAL_REPO=" + c.Repository.CentralURL,
		"M2_LOCAL_REPO=" + c.Cache.Root,
	}
	if c.Repository.LocalMirror != "" {
		env = append(env, "M2_LOCAL_MIRROR="+c.Repository.LocalMirror)
	}
	return env
}

// Error reports a missing or invalid configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	root := ""
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".m2", "repository")
	}
	return &Config{
		Repository: RepositoryConfig{
			CentralURL:    DefaultCentralURL,
			TLSVerify:     false,
			RetryAttempts: 3,
		},
		Cache: CacheConfig{
			Root: root,
		},
		Tool: ToolConfig{
			Version: toolchain.DefaultVersion,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads and parses a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for config in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"kscript.yaml",
		"/etc/kscript/kscript.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "kscript", "kscript.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Resolve loads the config the way both binaries do: an explicit path,
// then KSCRIPT_CONFIG, then the standard locations, then defaults. The
// environment is applied on top.
func Resolve(explicit string, lookup func(string) (string, bool)) (*Config, string, error) {
	path := explicit
	if path == "" {
		if v, ok := lookupNonBlank(lookup, "KSCRIPT_CONFIG"); ok {
			path = v
		}
	}
	if path == "" {
		if found, err := FindConfigFile(); err == nil {
			path = found
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, path, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// ApplyEnv overrides the config from environment variables. Blank values
// count as unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookupNonBlank(lookup, "CENTRAL_REPO_URL", "M2_CENTRAL_REPO"); ok {
		c.Repository.CentralURL = v
	}
	if v, ok := lookupNonBlank(lookup, "LOCAL_MIRROR_DIR", "M2_LOCAL_MIRROR"); ok {
		c.Repository.LocalMirror = v
	}
	if v, ok := lookupNonBlank(lookup, "KSCRIPT_TLS_VERIFY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Field: "KSCRIPT_TLS_VERIFY", Reason: fmt.Sprintf("not a boolean: %q", v)}
		}
		c.Repository.TLSVerify = b
	}
	if v, ok := lookupNonBlank(lookup, "LOCAL_CACHE_ROOT", "M2_LOCAL_REPO"); ok {
		c.Cache.Root = v
	}
	if v, ok := lookupNonBlank(lookup, "KSCRIPT_FLAGS", "KOTLIN_SCRIPT_FLAGS"); ok {
		c.Flags = ParseFlags(v)
	}
	// Any value, even an empty one, requests JNA.
	if _, ok := lookup("KOTLIN_SCRIPT_JNA"); ok {
		c.Runtime.ForceJNA = true
	}
	if v, ok := lookupNonBlank(lookup, "JAVA_HOME"); ok {
		c.Runtime.JavaHome = v
	}
	if v, ok := lookupNonBlank(lookup, "KSCRIPT_JAVA_VERSION"); ok {
		c.Runtime.JavaVersion = v
	}
	if v, ok := lookupNonBlank(lookup, "KSCRIPT_TOOL_VERSION", "KOTLIN_SCRIPT_VERSION"); ok {
		c.Tool.Version = v
	}
	if v, ok := lookupNonBlank(lookup, "KSCRIPT_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookupNonBlank(lookup, "KSCRIPT_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

func lookupNonBlank(lookup func(string) (string, bool), names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Validate checks the values every command depends on.
func (c *Config) Validate() error {
	if _, err := safety.ValidateHTTPURL(c.Repository.CentralURL); err != nil {
		return &Error{Field: "repository.central_url", Reason: err.Error()}
	}
	if c.Cache.Root == "" {
		return &Error{Field: "cache.root", Reason: "no local repository configured and no home directory"}
	}
	if c.Repository.RetryAttempts < 0 {
		return &Error{Field: "repository.retry_attempts", Reason: "must not be negative"}
	}
	if c.Tool.Version == "" && c.Tool.ManifestFile == "" {
		return &Error{Field: "tool.version", Reason: "required"}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &Error{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &Error{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// IndexPath returns the cache index database path, or "" when disabled.
func (c *Config) IndexPath() string {
	switch c.Cache.Index {
	case IndexOff:
		return ""
	case "":
		return filepath.Join(c.Cache.Root, "org", "cikit", "kotlin_script_cache", "index.db")
	default:
		return c.Cache.Index
	}
}
