package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/kscript/internal/cache"
	"github.com/BadgerOps/kscript/internal/digest"
	"github.com/BadgerOps/kscript/internal/store"
	"github.com/BadgerOps/kscript/internal/toolchain"
)

type testEnv struct {
	root string
	vars map[string]string
}

// newTestEnv isolates a command run: its own local repository and a config
// file so no system configuration is picked up.
func newTestEnv(t *testing.T, configYAML string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "kscript.yaml")
	if err := os.WriteFile(cfgFile, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return &testEnv{
		root: filepath.Join(dir, "repo"),
		vars: map[string]string{"KSCRIPT_CONFIG": cfgFile, "KSCRIPT_JAVA_VERSION": "17"},
	}
}

func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	orig := env
	env = func(k string) (string, bool) {
		v, ok := e.vars[k]
		return v, ok
	}
	defer func() { env = orig }()
	t.Cleanup(closeStore)

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--cache-root", e.root, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	closeStore()
	return stdout.String(), err
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestCacheListEmpty(t *testing.T) {
	e := newTestEnv(t, "")
	out, err := e.execute(t, "cache", "list")
	if err != nil {
		t.Fatalf("cache list returned error: %v", err)
	}
	if !strings.Contains(out, "No cache entries") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestCacheListShowsEntries(t *testing.T) {
	e := newTestEnv(t, "")
	l := cache.NewLayout(e.root, toolchain.DefaultVersion)
	now := time.Now()
	writeFile(t, l.MetadataPath("aaaaaaaaaaaaaaaaaaaa"), "///MAIN=X\n", now)
	writeFile(t, l.ArtifactPath("bbbbbbbbbbbbbbbbbbbb", "21"), "jar", now)

	out, err := e.execute(t, "cache", "list")
	if err != nil {
		t.Fatalf("cache list returned error: %v", err)
	}
	for _, want := range []string{"metadata", "artifact", "bbbbbbbbbbbbbbbb", "21", "2 entries"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCachePrune(t *testing.T) {
	e := newTestEnv(t, "")
	l := cache.NewLayout(e.root, toolchain.DefaultVersion)
	old := l.ArtifactPath("old", "")
	fresh := l.ArtifactPath("fresh", "")
	writeFile(t, old, "old artifact", time.Now().Add(-60*24*time.Hour))
	writeFile(t, fresh, "fresh artifact", time.Now())

	out, err := e.execute(t, "cache", "prune", "--older-than", "720h", "--dry-run")
	if err != nil {
		t.Fatalf("dry run returned error: %v", err)
	}
	if !strings.Contains(out, "Would remove "+old) {
		t.Errorf("dry run output:\n%s", out)
	}
	if _, err := os.Stat(old); err != nil {
		t.Fatalf("dry run removed %s", old)
	}

	if _, err := e.execute(t, "cache", "prune", "--older-than", "720h"); err != nil {
		t.Fatalf("prune returned error: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expired artifact kept: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh artifact removed: %v", err)
	}
}

func TestCachePruneRejectsBadSize(t *testing.T) {
	e := newTestEnv(t, "")
	if _, err := e.execute(t, "cache", "prune", "--max-size", "lots"); err == nil {
		t.Error("expected an error for an invalid size")
	}
}

// toolManifest writes a manifest listing files and returns the config
// selecting it.
func toolManifest(t *testing.T, files map[string][]byte) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("version: \"9.9\"\ncompiler_main: kotlin_script.KotlinScript\ndependencies:\n")
	for _, p := range sortedKeys(files) {
		fmt.Fprintf(&b, "  - path: %s\n    sha256: %s\n    size: %d\n", p, digest.Sum(files[p]).Hex(), len(files[p]))
	}
	path := filepath.Join(t.TempDir(), "tool.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return "tool:\n  version: \"9.9\"\n  manifest_file: " + path + "\n"
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestVerify(t *testing.T) {
	files := map[string][]byte{
		"a/a-1.jar": []byte("alpha"),
		"b/b-1.jar": []byte("bravo"),
		"c/c-1.jar": []byte("charlie"),
	}
	e := newTestEnv(t, toolManifest(t, files))
	now := time.Now()
	writeFile(t, filepath.Join(e.root, "a", "a-1.jar"), "alpha", now)
	writeFile(t, filepath.Join(e.root, "b", "b-1.jar"), "tampered", now)

	out, err := e.execute(t, "verify")
	if err == nil || !strings.Contains(err.Error(), "1 invalid") {
		t.Fatalf("expected a verification failure, got %v", err)
	}
	for _, want := range []string{"ok        a/a-1.jar", "MISMATCH  b/b-1.jar", "missing   c/c-1.jar"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := e.execute(t, "verify", "--remove"); err == nil {
		t.Fatal("expected a verification failure")
	}
	if _, err := os.Stat(filepath.Join(e.root, "b", "b-1.jar")); !os.IsNotExist(err) {
		t.Errorf("corrupted file kept: %v", err)
	}
	if _, err := e.execute(t, "verify"); err != nil {
		t.Errorf("verify after removal: %v", err)
	}
}

func TestFetchInstallsAndRecords(t *testing.T) {
	files := map[string][]byte{
		"a/a-1.jar": bytes.Repeat([]byte("a"), 100),
		"b/b-1.jar": bytes.Repeat([]byte("b"), 200),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}))
	defer server.Close()

	e := newTestEnv(t, toolManifest(t, files))
	e.vars["CENTRAL_REPO_URL"] = server.URL

	out, err := e.execute(t, "fetch", "--dry-run")
	if err != nil {
		t.Fatalf("fetch --dry-run returned error: %v", err)
	}
	if !strings.Contains(out, "300 B to download") {
		t.Errorf("dry run output:\n%s", out)
	}

	out, err = e.execute(t, "fetch", "--no-progress")
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if !strings.Contains(out, "2 dependencies installed") {
		t.Errorf("fetch output:\n%s", out)
	}
	for p, want := range files {
		got, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(p)))
		if err != nil || !bytes.Equal(got, want) {
			t.Errorf("%s not installed: %v", p, err)
		}
	}

	out, err = e.execute(t, "fetch", "--no-progress")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "present") != 2 {
		t.Errorf("second fetch should find everything present:\n%s", out)
	}

	st, err := store.New(filepath.Join(e.root, "org", "cikit", "kotlin_script_cache", "index.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	recs, err := st.ListFetches()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Source != "network" {
		t.Errorf("fetch records = %+v", recs)
	}
}

func TestHistory(t *testing.T) {
	e := newTestEnv(t, "")
	st, err := store.New(filepath.Join(e.root, "org", "cikit", "kotlin_script_cache", "index.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now().Add(-time.Hour)
	runs := []*store.LaunchRun{
		{LaunchID: "11111111-aaaa", Script: "ok.kt", Stage: store.StageCached, StartTime: start, EndTime: start.Add(time.Second)},
		{LaunchID: "22222222-bbbb", Script: "bad.kt", Stage: store.StageCompile, ExitCode: 1, ErrorMessage: "compiling bad.kt: compiler exited with status 1", StartTime: start.Add(time.Minute), EndTime: start.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		if err := st.CreateLaunchRun(r); err != nil {
			t.Fatal(err)
		}
		if err := st.FinishLaunchRun(r); err != nil {
			t.Fatal(err)
		}
	}
	st.Close()

	out, err := e.execute(t, "history")
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	for _, want := range []string{"11111111", "22222222", "ok.kt", "compiler exited with status 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = e.execute(t, "history", "--failed")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "ok.kt") || !strings.Contains(out, "bad.kt") {
		t.Errorf("--failed output:\n%s", out)
	}
}

func TestHistoryWithoutIndex(t *testing.T) {
	e := newTestEnv(t, "cache:\n  index: \"off\"\n")
	if _, err := e.execute(t, "history"); err == nil {
		t.Error("expected an error with the index disabled")
	}
}

func TestManifestShow(t *testing.T) {
	e := newTestEnv(t, "")
	out, err := e.execute(t, "manifest", "show")
	if err != nil {
		t.Fatalf("manifest show returned error: %v", err)
	}
	for _, want := range []string{toolchain.DefaultVersion, "kotlin_script.KotlinScript", "built in", "!ffm"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = e.execute(t, "manifest", "versions")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "* "+toolchain.DefaultVersion) {
		t.Errorf("versions output:\n%s", out)
	}
}

func TestConfigShowAppliesOverrides(t *testing.T) {
	e := newTestEnv(t, "repository:\n  retry_attempts: 7\n")
	e.vars["M2_CENTRAL_REPO"] = "https://nexus.example.com/maven2"

	out, err := e.execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show returned error: %v", err)
	}
	for _, want := range []string{"retry_attempts: 7", "central_url: https://nexus.example.com/maven2", "root: " + e.root} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
