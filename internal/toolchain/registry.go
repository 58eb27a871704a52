package toolchain

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// DefaultVersion is the tool version used when none is configured.
const DefaultVersion = "2.2.21.32"

//go:embed manifests/*.yaml
var builtinFS embed.FS

var (
	builtinOnce sync.Once
	builtin     map[string]*Manifest
	builtinErr  error
)

func loadBuiltin() {
	builtin = make(map[string]*Manifest)
	builtinErr = fs.WalkDir(builtinFS, "manifests", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return err
		}
		m, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		builtin[m.Version] = m
		return nil
	})
}

// Lookup returns the embedded manifest for version.
func Lookup(version string) (*Manifest, error) {
	builtinOnce.Do(loadBuiltin)
	if builtinErr != nil {
		return nil, builtinErr
	}
	m, ok := builtin[version]
	if !ok {
		return nil, fmt.Errorf("no embedded tool manifest for version %q (available: %v)", version, Versions())
	}
	return m, nil
}

// Versions lists the embedded tool versions in sorted order.
func Versions() []string {
	builtinOnce.Do(loadBuiltin)
	out := make([]string, 0, len(builtin))
	for v := range builtin {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the manifest for a launcher configuration: an explicit
// manifest file wins over the embedded registry.
func Resolve(version, manifestFile string) (*Manifest, error) {
	if manifestFile != "" {
		m, err := LoadFile(manifestFile)
		if err != nil {
			return nil, err
		}
		if version != "" && m.Version != version {
			return nil, fmt.Errorf("tool manifest %s declares version %s, configured %s", manifestFile, m.Version, version)
		}
		return m, nil
	}
	if version == "" {
		version = DefaultVersion
	}
	return Lookup(version)
}
