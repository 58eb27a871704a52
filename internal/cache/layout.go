// Package cache locates compiled script artifacts in the local repository.
//
// Artifacts are keyed by fingerprint and, optionally, by the runtime version
// they were compiled for:
//
//	<root>/<namespace>/<tool>/<prefix>-<tool>-sha256=<script hash>.metadata
//	<root>/<namespace>/<tool>/<prefix>-<tool>[-java<version>]-sha256=<fingerprint>.jar
//
// Entries are written once by the compiler and only ever replaced by rename,
// so a reader sees either the old or the new file.
package cache

import (
	"path/filepath"
	"strings"
)

const (
	DefaultNamespace = "org/cikit/kotlin_script_cache"
	DefaultPrefix    = "kotlin_script_cache"
	DefaultExt       = "jar"

	metadataExt   = "metadata"
	hashMarker    = "-sha256="
	versionMarker = "-java"
)

// Layout maps cache keys to file paths.
type Layout struct {
	Root        string // local repository root
	Namespace   string // slash separated
	Prefix      string
	ToolVersion string
	Ext         string
}

// NewLayout returns the default layout for a tool version under root.
func NewLayout(root, toolVersion string) Layout {
	return Layout{
		Root:        root,
		Namespace:   DefaultNamespace,
		Prefix:      DefaultPrefix,
		ToolVersion: toolVersion,
		Ext:         DefaultExt,
	}
}

// BaseDir is the directory holding the caches of every tool version.
func (l Layout) BaseDir() string {
	return filepath.Join(l.Root, filepath.FromSlash(l.Namespace))
}

// Dir is the cache directory of the layout's tool version.
func (l Layout) Dir() string {
	return filepath.Join(l.BaseDir(), l.ToolVersion)
}

// MetadataPath returns the metadata file for a script hash.
func (l Layout) MetadataPath(scriptHash string) string {
	return filepath.Join(l.Dir(), l.Prefix+"-"+l.ToolVersion+hashMarker+scriptHash+"."+metadataExt)
}

// ArtifactPath returns the artifact for a fingerprint. An empty runtime
// version selects the unsuffixed name.
func (l Layout) ArtifactPath(fingerprint, runtimeVersion string) string {
	var b strings.Builder
	b.WriteString(l.Prefix)
	b.WriteString("-")
	b.WriteString(l.ToolVersion)
	if runtimeVersion != "" {
		b.WriteString(versionMarker)
		b.WriteString(runtimeVersion)
	}
	b.WriteString(hashMarker)
	b.WriteString(fingerprint)
	b.WriteString(".")
	b.WriteString(l.ext())
	return filepath.Join(l.Dir(), b.String())
}

func (l Layout) ext() string {
	if l.Ext == "" {
		return DefaultExt
	}
	return l.Ext
}
