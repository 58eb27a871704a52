// Package metadata reads the sidecar file the compiler writes next to every
// cached artifact. Each line is KEY=VALUE, optionally prefixed with "///".
package metadata

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrMissingMainClass is returned when no entry point can be derived.
var ErrMissingMainClass = errors.New("missing main class")

const linePrefix = "///"

// Keys understood by the launcher. Other keys are skipped.
const (
	KeyDependency        = "DEP"
	KeyRuntimeDependency = "RDEP"
	KeyInclude           = "INC"
	KeyMain              = "MAIN"
)

// Metadata is the part of a compiled script's metadata needed to run it.
type Metadata struct {
	// Dependencies are repository relative paths, DEP and RDEP entries in
	// file order.
	Dependencies []string
	Includes     []string
	EntryPoint   string
}

// Parse reads metadata lines from r.
func Parse(r io.Reader) (*Metadata, error) {
	md := &Metadata{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimPrefix(strings.TrimRight(scanner.Text(), "\r"), linePrefix)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case KeyDependency, KeyRuntimeDependency:
			md.Dependencies = append(md.Dependencies, value)
		case KeyInclude:
			md.Includes = append(md.Includes, value)
		case KeyMain:
			md.EntryPoint = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return md, nil
}

// ReadFile parses the metadata file at path.
func ReadFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	md, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return md, nil
}

// Write emits md in the format Parse reads.
func (md *Metadata) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, dep := range md.Dependencies {
		fmt.Fprintf(bw, "%s%s=%s\n", linePrefix, KeyDependency, dep)
	}
	for _, inc := range md.Includes {
		fmt.Fprintf(bw, "%s%s=%s\n", linePrefix, KeyInclude, inc)
	}
	if md.EntryPoint != "" {
		fmt.Fprintf(bw, "%s%s=%s\n", linePrefix, KeyMain, md.EntryPoint)
	}
	return bw.Flush()
}

// ResolveEntryPoint returns the declared entry point, or the one derived
// from the script file name.
func (md *Metadata) ResolveEntryPoint(scriptName string) (string, error) {
	if md.EntryPoint != "" {
		return md.EntryPoint, nil
	}
	return EntryPointFor(scriptName)
}

// EntryPointFor derives the class name the compiler generates for a script
// file: "hello.kt" becomes "HelloKt", "build.main.kts" becomes "Build_main".
func EntryPointFor(scriptName string) (string, error) {
	if scriptName == "" {
		return "", ErrMissingMainClass
	}
	first, size := utf8.DecodeRuneInString(scriptName)
	s := string(unicode.ToUpper(first)) + strings.ReplaceAll(scriptName[size:], ".", "_")
	switch {
	case strings.HasSuffix(s, "_kt"):
		s = strings.TrimSuffix(s, "_kt") + "Kt"
	case strings.HasSuffix(s, "_kts"):
		s = strings.TrimSuffix(s, "_kts")
	}
	if s == "" {
		return "", ErrMissingMainClass
	}
	return s, nil
}
