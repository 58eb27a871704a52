package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BadgerOps/kscript/internal/jvm"
)

type recordingTracer struct {
	lines []string
}

func (r *recordingTracer) Trace(args ...string) {
	r.lines = append(r.lines, strings.Join(args, " "))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/repo", "2.2.21.32")
	dir := filepath.Join("/repo", "org", "cikit", "kotlin_script_cache", "2.2.21.32")

	if got := l.Dir(); got != dir {
		t.Errorf("Dir = %s, want %s", got, dir)
	}
	if got, want := l.MetadataPath("abc"), filepath.Join(dir, "kotlin_script_cache-2.2.21.32-sha256=abc.metadata"); got != want {
		t.Errorf("MetadataPath = %s, want %s", got, want)
	}
	if got, want := l.ArtifactPath("fp", "17"), filepath.Join(dir, "kotlin_script_cache-2.2.21.32-java17-sha256=fp.jar"); got != want {
		t.Errorf("ArtifactPath = %s, want %s", got, want)
	}
	if got, want := l.ArtifactPath("fp", ""), filepath.Join(dir, "kotlin_script_cache-2.2.21.32-sha256=fp.jar"); got != want {
		t.Errorf("ArtifactPath without version = %s, want %s", got, want)
	}
}

func TestLadder(t *testing.T) {
	tests := []struct {
		version string
		want    []string
	}{
		{"11", []string{"11", "10", "9", "1.8", ""}},
		{"9", []string{"9", "1.8", ""}},
		{"17.0.2", []string{"17", "16", "15", "14", "13", "12", "11", "10", "9", "1.8", ""}},
		{"1.8", []string{"1.8", ""}},
		{"1.7", []string{"1.8", ""}},
		{"", []string{""}},
		{"99999999999999999999", []string{"1.8", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Ladder(tt.version)); diff != "" {
				t.Errorf("Ladder(%q) mismatch (-want +got):\n%s", tt.version, diff)
			}
		})
	}
}

func TestProbeWalksLadderToUnsuffixedArtifact(t *testing.T) {
	l := NewLayout(t.TempDir(), "2.2.21.32")
	writeFile(t, l.ArtifactPath("fp", ""), "jar")

	tracer := &recordingTracer{}
	p := &Prober{Layout: l, Tracer: tracer}
	got, err := p.Probe("fp", "11")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if got != l.ArtifactPath("fp", "") {
		t.Errorf("Probe = %s, want unsuffixed artifact", got)
	}

	var want []string
	for _, v := range []string{"11", "10", "9", "1.8", ""} {
		want = append(want, "test -r "+l.ArtifactPath("fp", v))
	}
	if diff := cmp.Diff(want, tracer.lines); diff != "" {
		t.Errorf("probe order mismatch (-want +got):\n%s", diff)
	}
}

func TestLadderCapsHugeMajor(t *testing.T) {
	ladder := Ladder("200000000")
	if want := jvm.MaxMajor - 9 + 3; len(ladder) != want {
		t.Fatalf("len(Ladder) = %d, want %d", len(ladder), want)
	}
	if ladder[0] != strconv.Itoa(jvm.MaxMajor) {
		t.Errorf("ladder starts at %s, want %d", ladder[0], jvm.MaxMajor)
	}
}

func TestProbeHugeVersionFindsUnsuffixedArtifact(t *testing.T) {
	l := NewLayout(t.TempDir(), "2.2.21.32")
	writeFile(t, l.ArtifactPath("fp", ""), "jar")

	p := &Prober{Layout: l}
	got, err := p.Probe("fp", "2000000000")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if got != l.ArtifactPath("fp", "") {
		t.Errorf("Probe = %s, want unsuffixed artifact", got)
	}
}

func TestProbePrefersNewestMatchingVersion(t *testing.T) {
	l := NewLayout(t.TempDir(), "2.2.21.32")
	writeFile(t, l.ArtifactPath("fp", "10"), "jar10")
	writeFile(t, l.ArtifactPath("fp", "1.8"), "jar8")

	p := &Prober{Layout: l}
	got, err := p.Probe("fp", "11")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if got != l.ArtifactPath("fp", "10") {
		t.Errorf("Probe = %s, want java10 artifact", got)
	}
}

func TestProbeNotFound(t *testing.T) {
	p := &Prober{Layout: NewLayout(t.TempDir(), "2.2.21.32")}
	if _, err := p.Probe("fp", "21"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root, "2.2.21.32")
	writeFile(t, l.MetadataPath("aaa"), "///MAIN=X")
	writeFile(t, l.ArtifactPath("bbb", "21"), "jar")
	writeFile(t, l.ArtifactPath("ccc", ""), "jar!")
	writeFile(t, filepath.Join(l.Dir(), "README"), "ignored")
	writeFile(t, l.ArtifactPath("ddd", "")+".1234~", "partial")

	old := NewLayout(root, "2.1.0.1")
	writeFile(t, old.ArtifactPath("eee", "17"), "old")

	entries, err := Scan(l)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	type summary struct {
		Kind           Kind
		ToolVersion    string
		RuntimeVersion string
		Hash           string
		Size           int64
	}
	var got []summary
	for _, e := range entries {
		got = append(got, summary{e.Kind, e.ToolVersion, e.RuntimeVersion, e.Hash, e.Size})
	}
	want := []summary{
		{KindArtifact, "2.1.0.1", "17", "eee", 3},
		{KindArtifact, "2.2.21.32", "21", "bbb", 3},
		{KindMetadata, "2.2.21.32", "", "aaa", 9},
		{KindArtifact, "2.2.21.32", "", "ccc", 4},
		{KindTemp, "2.2.21.32", "", "", 7},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Scan mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe(t *testing.T) {
	l := NewLayout("/repo", "2.2.21.32")
	tests := []struct {
		name string
		path string
		want Entry
		ok   bool
	}{
		{"versioned artifact", l.ArtifactPath("abc", "21"), Entry{Kind: KindArtifact, ToolVersion: "2.2.21.32", RuntimeVersion: "21", Hash: "abc"}, true},
		{"plain artifact", l.ArtifactPath("abc", ""), Entry{Kind: KindArtifact, ToolVersion: "2.2.21.32", Hash: "abc"}, true},
		{"metadata", l.MetadataPath("def"), Entry{Kind: KindMetadata, ToolVersion: "2.2.21.32", Hash: "def"}, true},
		{"other tool version", NewLayout("/repo", "2.1.0.1").ArtifactPath("abc", ""), Entry{}, false},
		{"temp file", l.ArtifactPath("abc", "") + ".1~", Entry{}, false},
		{"foreign file", "/tmp/out.jar", Entry{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.Describe(tt.path)
			if ok != tt.ok {
				t.Fatalf("Describe(%s) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if !ok {
				return
			}
			tt.want.Path = tt.path
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Describe mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanMissingDirectory(t *testing.T) {
	entries, err := Scan(NewLayout(filepath.Join(t.TempDir(), "nope"), "1"))
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected no entries and no error, got %v, %v", entries, err)
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	mk := func(name string, size int64, age time.Duration, kind Kind) Entry {
		p := filepath.Join(dir, name)
		writeFile(t, p, strings.Repeat("x", int(size)))
		return Entry{Path: p, Kind: kind, Size: size, ModTime: now.Add(-age)}
	}
	entries := []Entry{
		mk("new.jar", 100, time.Hour, KindArtifact),
		mk("old.jar", 100, 40*24*time.Hour, KindArtifact),
		mk("mid.jar", 100, 5*24*time.Hour, KindArtifact),
		mk("partial~", 10, time.Minute, KindTemp),
	}

	removed, err := Prune(entries, PruneOptions{OlderThan: 30 * 24 * time.Hour, MaxSize: 150, Now: now})
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	var names []string
	for _, e := range removed {
		names = append(names, filepath.Base(e.Path))
	}
	// old by age, mid by size, the temp file always.
	if diff := cmp.Diff([]string{"old.jar", "mid.jar", "partial~"}, names); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.jar")); err != nil {
		t.Errorf("newest entry should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.jar")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("old entry should be removed")
	}
}

func TestPruneDryRunKeepsFiles(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.jar")
	writeFile(t, p, "data")
	entries := []Entry{{Path: p, Kind: KindArtifact, Size: 4, ModTime: time.Now().Add(-48 * time.Hour)}}

	removed, err := Prune(entries, PruneOptions{OlderThan: time.Hour, DryRun: true})
	if err != nil || len(removed) != 1 {
		t.Fatalf("expected one candidate, got %v, %v", removed, err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Errorf("dry run removed the file: %v", err)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"100B", 100, false},
		{"1KiB", 1024, false},
		{"1MB", 1000 * 1000, false},
		{"2GiB", 2 * 1024 * 1024 * 1024, false},
		{"500mb", 500 * 1000 * 1000, false},
		{"1024", 1024, false},
		{" 10 GB ", 10 * 1000 * 1000 * 1000, false},
		{"", 0, true},
		{"GB", 0, true},
		{"-1GB", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSize(%q) expected error, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}
