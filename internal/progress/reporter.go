// Package progress renders fetch progress on a single, carriage-return
// overwritten status line.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// DefaultMinInterval is the minimum time between two redraws.
	DefaultMinInterval = 100 * time.Millisecond
	// DefaultWaitTimeout bounds how long the reporter sleeps without a signal.
	DefaultWaitTimeout = 200 * time.Millisecond
)

const spinner = `|/-\`

// Reporter draws a State to Out until the state's message is cleared.
type Reporter struct {
	Out         io.Writer
	MinInterval time.Duration
	WaitTimeout time.Duration
}

// NewReporter returns a Reporter with the default timings.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{
		Out:         out,
		MinInterval: DefaultMinInterval,
		WaitTimeout: DefaultWaitTimeout,
	}
}

// Run blocks until s is cleared. It returns the first write error, after
// which nothing more is drawn.
func (r *Reporter) Run(s *State) error {
	minInterval := r.MinInterval
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	waitTimeout := r.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}

	var (
		frames    int
		lastDraw  time.Time
		lastWidth int
	)
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	for {
		// Grab the wait channel before reading the snapshot so an update
		// between the two is not lost.
		wake := s.Wait()
		snap := s.Snapshot()
		if !snap.Active() {
			break
		}

		if now := time.Now(); lastDraw.IsZero() || now.Sub(lastDraw) >= minInterval {
			line := formatLine(frames, snap)
			if frames > 0 {
				line = "\r" + line
			}
			if _, err := io.WriteString(r.Out, line); err != nil {
				return fmt.Errorf("writing progress: %w", err)
			}
			if w := len(line) - boolInt(frames > 0); w > lastWidth {
				lastWidth = w
			}
			frames++
			lastDraw = now
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(waitTimeout)
		select {
		case <-wake:
		case <-timer.C:
		}
	}

	if frames > 0 {
		clear := "\r" + strings.Repeat(" ", lastWidth) + "\r"
		if _, err := io.WriteString(r.Out, clear); err != nil {
			return fmt.Errorf("clearing progress: %w", err)
		}
	}
	return nil
}

// formatLine renders one frame without the leading carriage return.
func formatLine(frame int, snap Snapshot) string {
	glyph := spinner[(frame/2)%len(spinner)]
	return fmt.Sprintf("%c   %.2f%%  %s", glyph, snap.Percent(), snap.Message)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
