// Package toolchain describes the compiler tool's own dependencies: which
// artifacts to fetch from the repository, their expected SHA-256 and size,
// and which of them apply to the current runtime.
package toolchain

import (
	"fmt"
	"os"
	"strings"

	"github.com/BadgerOps/kscript/internal/digest"
	"github.com/BadgerOps/kscript/internal/safety"
	"gopkg.in/yaml.v3"
)

// CapabilityFFM is set when the runtime provides the foreign function API
// and the JNA based terminal backend is not requested.
const CapabilityFFM = "ffm"

// Capabilities are runtime feature flags used to include or exclude
// platform specific dependencies.
type Capabilities struct {
	FFM bool
}

// Has reports whether the named capability is present.
func (c Capabilities) Has(name string) (bool, error) {
	switch name {
	case CapabilityFFM:
		return c.FFM, nil
	default:
		return false, fmt.Errorf("unknown capability %q", name)
	}
}

// Dependency is one artifact required by the compiler tool.
type Dependency struct {
	// Path is relative to both the repository base URL and the local repository root.
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256"`
	Size   int64  `yaml:"size"`
	// When optionally restricts the dependency to runtimes with ("ffm") or
	// without ("!ffm") a capability.
	When string `yaml:"when,omitempty"`

	sum digest.Digest
}

// Digest returns the parsed expected hash.
func (d Dependency) Digest() digest.Digest {
	return d.sum
}

// Applies reports whether the dependency is required under caps.
func (d Dependency) Applies(caps Capabilities) (bool, error) {
	cond := strings.TrimSpace(d.When)
	if cond == "" {
		return true, nil
	}
	negate := strings.HasPrefix(cond, "!")
	has, err := caps.Has(strings.TrimPrefix(cond, "!"))
	if err != nil {
		return false, err
	}
	return has != negate, nil
}

// Manifest is the full dependency list of one tool version.
type Manifest struct {
	Version      string       `yaml:"version"`
	CompilerMain string       `yaml:"compiler_main"`
	Dependencies []Dependency `yaml:"dependencies"`
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing tool manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads a manifest from disk.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate checks every field and caches the parsed digests.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("tool manifest: version is required")
	}
	if strings.TrimSpace(m.CompilerMain) == "" {
		return fmt.Errorf("tool manifest %s: compiler_main is required", m.Version)
	}
	if len(m.Dependencies) == 0 {
		return fmt.Errorf("tool manifest %s: no dependencies", m.Version)
	}
	seen := make(map[string]bool, len(m.Dependencies))
	for i := range m.Dependencies {
		d := &m.Dependencies[i]
		if _, err := safety.CleanRelativePath(d.Path); err != nil {
			return fmt.Errorf("tool manifest %s: dependency %d: %w", m.Version, i, err)
		}
		if seen[d.Path] {
			return fmt.Errorf("tool manifest %s: duplicate dependency %s", m.Version, d.Path)
		}
		seen[d.Path] = true
		sum, err := digest.ParseHex(d.SHA256)
		if err != nil {
			return fmt.Errorf("tool manifest %s: %s: %w", m.Version, d.Path, err)
		}
		d.sum = sum
		if d.Size < 0 {
			return fmt.Errorf("tool manifest %s: %s: negative size", m.Version, d.Path)
		}
		if _, err := d.Applies(Capabilities{}); err != nil {
			return fmt.Errorf("tool manifest %s: %s: %w", m.Version, d.Path, err)
		}
	}
	return nil
}

// Select returns the dependencies that apply under caps, in manifest order.
func (m *Manifest) Select(caps Capabilities) []Dependency {
	out := make([]Dependency, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		// Conditions were checked by Validate.
		if ok, _ := d.Applies(caps); ok {
			out = append(out, d)
		}
	}
	return out
}

// TotalSize sums the expected sizes of deps.
func TotalSize(deps []Dependency) int64 {
	var total int64
	for _, d := range deps {
		total += d.Size
	}
	return total
}
