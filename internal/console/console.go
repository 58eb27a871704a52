// Package console writes the launcher's human facing diagnostics: "++"
// trace lines in the style of sh -x and the headers of kscriptctl tables.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Tracer echoes the commands the launcher performs. A nil or disabled
// Tracer writes nothing.
type Tracer struct {
	mu      sync.Mutex
	out     io.Writer
	marker  string
	enabled bool
}

// NewTracer returns a Tracer writing to out. The "++" marker is bold when
// out is a color capable terminal.
func NewTracer(out io.Writer, enabled bool) *Tracer {
	r := lipgloss.NewRenderer(out)
	return &Tracer{
		out:     out,
		marker:  r.NewStyle().Bold(true).Render("++"),
		enabled: enabled,
	}
}

// Enabled reports whether trace lines are written.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

// Trace writes one line: the marker followed by args separated by spaces.
func (t *Tracer) Trace(args ...string) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", t.marker, strings.Join(args, " "))
}

// Styles renders table output for the ctl commands.
type Styles struct {
	Header lipgloss.Style
	Faint  lipgloss.Style
}

// NewStyles returns the styles for out.
func NewStyles(out io.Writer) Styles {
	r := lipgloss.NewRenderer(out)
	return Styles{
		Header: r.NewStyle().Bold(true),
		Faint:  r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
