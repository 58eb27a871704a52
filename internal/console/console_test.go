package console

import (
	"bytes"
	"testing"
)

func TestTracerWritesPlainLinesToNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracer(&buf, true)
	tr.Trace("test", "-r", "/tmp/a.jar")
	tr.Trace("read_metadata", "/tmp/a.metadata")

	want := "++ test -r /tmp/a.jar\n++ read_metadata /tmp/a.metadata\n"
	if got := buf.String(); got != want {
		t.Errorf("trace output = %q, want %q", got, want)
	}
}

func TestTracerDisabled(t *testing.T) {
	var buf bytes.Buffer
	NewTracer(&buf, false).Trace("cp", "a", "b")
	if buf.Len() != 0 {
		t.Errorf("disabled tracer wrote %q", buf.String())
	}

	var nilTracer *Tracer
	nilTracer.Trace("cp", "a", "b") // must not panic
	if nilTracer.Enabled() {
		t.Error("nil tracer reports enabled")
	}
}

func TestStylesRenderPlainToNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewStyles(&buf)
	if got := s.Header.Render("PATH"); got != "PATH" {
		t.Errorf("Header.Render = %q, want plain text", got)
	}
}
