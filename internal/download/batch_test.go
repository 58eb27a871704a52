package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/BadgerOps/kscript/internal/digest"
	"github.com/BadgerOps/kscript/internal/progress"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// repoServer answers slowly enough for the reporter to draw a frame.
func repoServer(files map[string][]byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		data, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}))
}

func fastReporter(out io.Writer) *progress.Reporter {
	return &progress.Reporter{Out: out, MinInterval: time.Millisecond, WaitTimeout: time.Millisecond}
}

func TestBatchRunInstallsInOrderWithProgress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"))

	files := map[string][]byte{
		"a/a-1.jar": bytes.Repeat([]byte("a"), 10000),
		"b/b-1.jar": bytes.Repeat([]byte("b"), 5000),
	}
	server := repoServer(files)
	defer server.Close()

	f := newTestFetcher(t, Config{RepositoryURL: server.URL})
	// b is already installed and must not be fetched again.
	destB, _ := f.Destination("b/b-1.jar")
	if err := os.MkdirAll(filepath.Dir(destB), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(destB, files["b/b-1.jar"], 0644); err != nil {
		t.Fatal(err)
	}

	out := &lockedBuffer{}
	b := NewBatch(f, testLogger())
	b.ProgressOut = out
	b.Message = "fetching compiler"
	b.NewReporter = fastReporter

	arts := []Artifact{
		{Path: "a/a-1.jar", SHA256: digest.Sum(files["a/a-1.jar"]), Size: 10000},
		{Path: "b/b-1.jar", SHA256: digest.Sum(files["b/b-1.jar"]), Size: 5000},
	}
	results, err := b.Run(context.Background(), arts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var got []Source
	for _, r := range results {
		got = append(got, r.Source)
	}
	if diff := cmp.Diff([]Source{SourceNetwork, SourcePresent}, got); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
	if s := out.String(); !strings.Contains(s, "fetching compiler") || !strings.HasSuffix(s, "\r") {
		t.Errorf("unexpected progress output %q", s)
	}
}

func TestBatchRunWithoutMissingArtifactsDrawsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	content := []byte("present")
	f := newTestFetcher(t, Config{RepositoryURL: "http://127.0.0.1:1"})
	dest, _ := f.Destination(testPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, content, 0644); err != nil {
		t.Fatal(err)
	}

	out := &lockedBuffer{}
	b := NewBatch(f, testLogger())
	b.ProgressOut = out

	if _, err := b.Run(context.Background(), []Artifact{artifactFor(content)}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if s := out.String(); s != "" {
		t.Errorf("expected no progress output, got %q", s)
	}
}

func TestBatchRunStopsAtFirstError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"))

	files := map[string][]byte{
		"a/a-1.jar": []byte("tampered"),
		"c/c-1.jar": []byte("never requested"),
	}
	server := repoServer(files)
	defer server.Close()

	f := newTestFetcher(t, Config{RepositoryURL: server.URL})
	b := NewBatch(f, testLogger())
	b.ProgressOut = &lockedBuffer{}
	b.NewReporter = fastReporter

	arts := []Artifact{
		{Path: "a/a-1.jar", SHA256: digest.Sum([]byte("expected")), Size: 8},
		{Path: "c/c-1.jar", SHA256: digest.Sum(files["c/c-1.jar"]), Size: 15},
	}
	results, err := b.Run(context.Background(), arts)
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results before the failure, got %d", len(results))
	}
	dest, _ := f.Destination("c/c-1.jar")
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("batch continued after the first error")
	}
}

func TestBatchPlanSumsMissingArtifacts(t *testing.T) {
	f := newTestFetcher(t, Config{RepositoryURL: "http://127.0.0.1:1"})
	b := NewBatch(f, testLogger())

	arts := []Artifact{
		{Path: "a/a-1.jar", SHA256: digest.Sum([]byte("a")), Size: 100},
		{Path: "b/b-1.jar", SHA256: digest.Sum([]byte("b")), Size: 250},
	}
	total, err := b.Plan(context.Background(), arts)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if total != 350 {
		t.Errorf("Plan = %d, want 350", total)
	}
}
