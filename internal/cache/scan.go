package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind classifies a file found in the cache.
type Kind string

const (
	KindArtifact Kind = "artifact"
	KindMetadata Kind = "metadata"
	// KindTemp is a leftover temporary file of an interrupted write.
	KindTemp Kind = "temp"
)

// Entry is one file in the cache.
type Entry struct {
	Path           string
	Kind           Kind
	ToolVersion    string
	RuntimeVersion string // artifacts only, empty when unsuffixed
	Hash           string // fingerprint for artifacts, script hash for metadata
	Size           int64
	ModTime        time.Time
}

// Scan lists the cache entries of every tool version below the layout's
// base directory. Files that do not follow the naming scheme are skipped.
// A missing cache directory yields no entries.
func Scan(l Layout) ([]Entry, error) {
	base := l.BaseDir()
	versions, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var entries []Entry
	for _, v := range versions {
		if !v.IsDir() {
			continue
		}
		dir := filepath.Join(base, v.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading cache directory: %w", err)
		}
		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			e, ok := parseEntryName(l.Prefix, v.Name(), f.Name())
			if !ok {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			e.Path = filepath.Join(dir, f.Name())
			e.Size = info.Size()
			e.ModTime = info.ModTime()
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Describe parses a cache file path produced for this layout's tool
// version. It reports false for files that do not follow the naming scheme.
func (l Layout) Describe(path string) (Entry, bool) {
	e, ok := parseEntryName(l.Prefix, l.ToolVersion, filepath.Base(path))
	if !ok || e.Kind == KindTemp {
		return Entry{}, false
	}
	e.Path = path
	return e, true
}

func parseEntryName(prefix, toolVersion, name string) (Entry, bool) {
	e := Entry{ToolVersion: toolVersion}
	if strings.HasSuffix(name, "~") {
		e.Kind = KindTemp
		return e, strings.HasPrefix(name, prefix+"-")
	}

	rest, ok := strings.CutPrefix(name, prefix+"-"+toolVersion)
	if !ok {
		return e, false
	}
	if after, ok := strings.CutPrefix(rest, versionMarker); ok {
		v, tail, found := strings.Cut(after, hashMarker)
		if !found || v == "" {
			return e, false
		}
		e.RuntimeVersion = v
		rest = hashMarker + tail
	}
	rest, ok = strings.CutPrefix(rest, hashMarker)
	if !ok {
		return e, false
	}
	hash, ext, ok := strings.Cut(rest, ".")
	if !ok || hash == "" {
		return e, false
	}
	e.Hash = hash
	if ext == metadataExt {
		if e.RuntimeVersion != "" {
			return e, false
		}
		e.Kind = KindMetadata
	} else {
		e.Kind = KindArtifact
	}
	return e, true
}

// PruneOptions selects entries to remove.
type PruneOptions struct {
	// OlderThan removes entries not modified within this duration. Zero
	// disables the age check.
	OlderThan time.Duration
	// MaxSize removes the oldest entries until the rest fit. Zero disables
	// the size check.
	MaxSize int64
	DryRun  bool
	Now     time.Time // defaults to time.Now()
}

// Prune removes entries by age and total size, oldest first, and returns
// the removed entries. Temporary leftovers are always removed.
func Prune(entries []Entry, opts PruneOptions) ([]Entry, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ModTime.Before(sorted[j].ModTime) })

	var total int64
	for _, e := range sorted {
		total += e.Size
	}

	var removed []Entry
	for _, e := range sorted {
		expired := opts.OlderThan > 0 && now.Sub(e.ModTime) > opts.OlderThan
		oversize := opts.MaxSize > 0 && total > opts.MaxSize
		if e.Kind != KindTemp && !expired && !oversize {
			continue
		}
		if !opts.DryRun {
			if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("removing %s: %w", e.Path, err)
			}
		}
		total -= e.Size
		removed = append(removed, e)
	}
	return removed, nil
}
