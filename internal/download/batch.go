package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/kscript/internal/progress"
	"github.com/BadgerOps/kscript/internal/safety"
)

// Batch installs a list of artifacts one after another, drawing a progress
// line while bytes are transferred.
type Batch struct {
	fetcher *Fetcher
	logger  *slog.Logger

	// Message is shown next to the percentage. Defaults to "fetching <size>".
	Message string
	// ProgressOut receives the progress line. Nil disables progress.
	ProgressOut io.Writer
	// NewReporter builds the reporter for ProgressOut. Tests use it to
	// shorten the redraw timings.
	NewReporter func(io.Writer) *progress.Reporter
}

// NewBatch creates a Batch backed by f.
func NewBatch(f *Fetcher, logger *slog.Logger) *Batch {
	return &Batch{
		fetcher:     f,
		logger:      logger,
		NewReporter: progress.NewReporter,
	}
}

// Plan returns the number of bytes Run would transfer over the network.
// Mirror hits are installed while planning.
func (b *Batch) Plan(ctx context.Context, arts []Artifact) (int64, error) {
	var total int64
	for _, art := range arts {
		dest, err := b.fetcher.Destination(art.Path)
		if err != nil {
			return 0, fmt.Errorf("invalid artifact path: %w", err)
		}
		if safety.Readable(dest) {
			continue
		}
		n, err := b.fetcher.Fetch(ctx, art, Options{DryRun: true})
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Run installs every artifact that is not readable in the local repository
// yet. Results keep the input order. The first error stops the batch.
func (b *Batch) Run(ctx context.Context, arts []Artifact) ([]Result, error) {
	var state *progress.State
	var g errgroup.Group

	if b.ProgressOut != nil {
		total, err := b.Plan(ctx, arts)
		if err != nil {
			return nil, err
		}
		if total > 0 {
			msg := b.Message
			if msg == "" {
				msg = "fetching " + humanize.Bytes(uint64(total))
			}
			state = progress.NewState(msg, total)
			reporter := b.NewReporter(b.ProgressOut)
			g.Go(func() error { return reporter.Run(state) })
		}
	}

	results, err := b.installAll(ctx, arts, state)

	if state != nil {
		state.Clear()
	}
	if werr := g.Wait(); werr != nil {
		b.logger.Debug("progress reporter failed", "error", werr)
	}
	return results, err
}

func (b *Batch) installAll(ctx context.Context, arts []Artifact, state *progress.State) ([]Result, error) {
	results := make([]Result, 0, len(arts))
	for _, art := range arts {
		dest, err := b.fetcher.Destination(art.Path)
		if err != nil {
			return results, fmt.Errorf("invalid artifact path: %w", err)
		}
		if safety.Readable(dest) {
			results = append(results, Result{Artifact: art, Path: dest, Source: SourcePresent})
			continue
		}

		res, err := b.fetcher.Install(ctx, art, Options{Progress: state})
		if err != nil {
			b.logger.Error("fetch failed", "path", art.Path, "error", err)
			return results, err
		}
		b.logger.Info("fetched", "path", art.Path, "source", res.Source, "size", res.Transferred)
		results = append(results, *res)
	}
	return results, nil
}
