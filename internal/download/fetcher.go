// Package download installs repository artifacts into the local repository.
// Every file is written to a temporary file next to its destination, checked
// against its expected SHA-256 and only then renamed into place.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/kscript/internal/digest"
	"github.com/BadgerOps/kscript/internal/progress"
	"github.com/BadgerOps/kscript/internal/safety"
)

const copyBufferSize = 4096

// Tracer receives shell-like command echoes when tracing is enabled.
type Tracer interface {
	Trace(args ...string)
}

// Artifact names one repository file and its expected content.
type Artifact struct {
	Path   string // repository relative, slash separated
	SHA256 digest.Digest
	Size   int64
}

// Options controls a single Fetch call.
type Options struct {
	// DryRun returns the expected size instead of downloading. A local
	// mirror hit is still installed.
	DryRun bool
	// Progress receives every copied byte. May be nil.
	Progress *progress.State
}

// Source records where an installed artifact came from.
type Source string

const (
	SourceNone    Source = ""
	SourcePresent Source = "present"
	SourceMirror  Source = "mirror"
	SourceNetwork Source = "network"
)

// Result describes the outcome of installing one artifact.
type Result struct {
	Artifact Artifact
	Path     string // destination on disk
	Source   Source
	// Transferred is the number of network bytes: 0 for mirror hits, the
	// expected size for a dry run.
	Transferred int64
	Attempts    int
}

// Config configures a Fetcher.
type Config struct {
	RepositoryURL string
	MirrorDir     string // optional
	LocalRepo     string
	RetryCount    int // 0 defaults to 3
	HTTPClient    *http.Client
	Tracer        Tracer
}

// Fetcher installs artifacts from a local mirror or a remote repository.
type Fetcher struct {
	httpClient  *http.Client
	logger      *slog.Logger
	repoURL     string
	mirrorDir   string
	localRepo   string
	retryCount  int
	tracer      Tracer
	backoffFunc func(attempt int) time.Duration
}

// NewFetcher creates a Fetcher with the given configuration.
func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = safety.NewHTTPClient(safety.HTTPOptions{UserAgent: "kscript/1.0"})
	}
	retry := cfg.RetryCount
	if retry <= 0 {
		retry = 3
	}
	return &Fetcher{
		httpClient:  client,
		logger:      logger,
		repoURL:     cfg.RepositoryURL,
		mirrorDir:   cfg.MirrorDir,
		localRepo:   cfg.LocalRepo,
		retryCount:  retry,
		tracer:      cfg.Tracer,
		backoffFunc: calculateBackoffDelay,
	}
}

// Destination returns where art is installed in the local repository.
func (f *Fetcher) Destination(rel string) (string, error) {
	return safety.SafeJoinUnder(f.localRepo, rel)
}

// Fetch installs art and returns the number of bytes transferred over the
// network: 0 for a mirror hit, the expected size for a dry run.
func (f *Fetcher) Fetch(ctx context.Context, art Artifact, opts Options) (int64, error) {
	res, err := f.Install(ctx, art, opts)
	if err != nil {
		return 0, err
	}
	return res.Transferred, nil
}

// Install is Fetch with a detailed result.
func (f *Fetcher) Install(ctx context.Context, art Artifact, opts Options) (*Result, error) {
	dest, err := f.Destination(art.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact path: %w", err)
	}
	res := &Result{Artifact: art, Path: dest}

	if f.mirrorDir != "" {
		hit, err := f.copyFromMirror(art, dest, opts.Progress)
		if err != nil {
			return nil, err
		}
		if hit {
			res.Source = SourceMirror
			return res, nil
		}
	}

	if opts.DryRun {
		res.Transferred = art.Size
		return res, nil
	}

	size, attempts, err := f.fetchRemote(ctx, art, dest, opts.Progress)
	res.Attempts = attempts
	if err != nil {
		return nil, err
	}
	res.Source = SourceNetwork
	res.Transferred = size
	return res, nil
}

// copyFromMirror installs art from the mirror when the mirror copy has the
// expected hash. A missing or mismatching mirror file is not an error.
func (f *Fetcher) copyFromMirror(art Artifact, dest string, state *progress.State) (bool, error) {
	source, err := safety.SafeJoinUnder(f.mirrorDir, art.Path)
	if err != nil || !safety.Readable(source) {
		return false, nil
	}
	in, err := os.Open(source)
	if err != nil {
		return false, nil
	}
	defer in.Close()

	tmp, err := createTempFile(dest)
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	f.trace("cp", source, dest)
	n, sum, err := copyWithDigest(tmp, in, state)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		state.Add(-n)
		f.logger.Debug("mirror copy failed, falling back to repository", "path", art.Path, "error", err)
		return false, nil
	}
	if sum != art.SHA256 {
		state.Add(-n)
		f.logger.Debug("mirror copy has unexpected checksum, falling back to repository",
			"path", art.Path, "got", sum.Hex(), "expected", art.SHA256.Hex())
		return false, nil
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return false, fmt.Errorf("installing %s: %w", dest, err)
	}
	f.logger.Debug("installed from mirror", "path", art.Path, "size", n)
	return true, nil
}

// fetchRemote downloads art with retries and exponential backoff.
func (f *Fetcher) fetchRemote(ctx context.Context, art Artifact, dest string, state *progress.State) (int64, int, error) {
	url := safety.JoinURL(f.repoURL, art.Path)
	var lastErr error

	for attempt := 1; attempt <= f.retryCount; attempt++ {
		select {
		case <-ctx.Done():
			return 0, attempt, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		default:
		}

		size, err := f.downloadAttempt(ctx, url, art, dest, state)
		if err == nil {
			return size, attempt, nil
		}
		lastErr = err
		f.logger.Warn("fetch attempt failed", "url", url, "attempt", attempt, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, attempt, err
		}
		if shouldNotRetry(err) {
			return 0, attempt, err
		}

		if attempt < f.retryCount {
			delay := f.backoffFunc(attempt)
			f.logger.Debug("retrying fetch", "url", url, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, attempt, fmt.Errorf("fetch cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return 0, f.retryCount, fmt.Errorf("fetch failed after %d attempts: %w", f.retryCount, lastErr)
}

// downloadAttempt performs a single GET into a temporary file and installs
// it when the hash matches.
func (f *Fetcher) downloadAttempt(ctx context.Context, url string, art Artifact, dest string, state *progress.State) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	tmp, err := createTempFile(dest)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	f.trace("fetch", "-o", dest, url)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := safety.ReadAllWithLimit(resp.Body, 4096)
		return 0, &HTTPError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	n, sum, err := copyWithDigest(tmp, resp.Body, state)
	if err != nil {
		state.Add(-n)
		return 0, fmt.Errorf("failed to write to file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		state.Add(-n)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if sum != art.SHA256 {
		state.Add(-n)
		return 0, &IntegrityError{
			URL:      url,
			Path:     art.Path,
			Expected: art.SHA256.Hex(),
			Actual:   sum.Hex(),
		}
	}
	if art.Size > 0 && n != art.Size {
		// Checksum is authoritative; a stale size only deserves a note.
		f.logger.Warn("size differs from manifest but checksum matches, accepting file",
			"path", art.Path, "got_size", n, "expected_size", art.Size)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("installing %s: %w", dest, err)
	}
	fi, err := os.Stat(dest)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", dest, err)
	}
	f.logger.Debug("installed from repository", "path", art.Path, "size", fi.Size())
	return fi.Size(), nil
}

func (f *Fetcher) trace(args ...string) {
	if f.tracer != nil {
		f.tracer.Trace(args...)
	}
}

// createTempFile creates a temporary file in the directory of target so the
// final rename stays on one filesystem.
func createTempFile(target string) (*os.File, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*~")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return tmp, nil
}

// copyWithDigest copies src to dst with fixed-size reads, hashing the data
// and reporting every read to state.
func copyWithDigest(dst io.Writer, src io.Reader, state *progress.State) (int64, digest.Digest, error) {
	w := digest.NewWriter()
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			state.Add(int64(n))
			_, _ = w.Write(buf[:n])
			if _, err := dst.Write(buf[:n]); err != nil {
				return written + int64(n), digest.Digest{}, err
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, digest.Digest{}, rerr
		}
	}
	return written, w.Finish(), nil
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// Don't retry on 4xx errors except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}
	return false
}
