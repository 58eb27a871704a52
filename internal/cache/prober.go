package cache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BadgerOps/kscript/internal/jvm"
	"github.com/BadgerOps/kscript/internal/safety"
)

// ErrNotFound is returned when no cached artifact matches a fingerprint.
var ErrNotFound = errors.New("cached artifact not found")

// Tracer receives shell-like command echoes when tracing is enabled.
type Tracer interface {
	Trace(args ...string)
}

// Ladder returns the runtime versions to try for an artifact compiled on
// version, newest first. Artifacts built for an older runtime still run on
// a newer one, so the ladder walks down to 9, then 1.8, and always ends with
// "" for the unsuffixed name. Versions below 9, including the 1.x scheme,
// start at 1.8. Majors above jvm.MaxMajor start at jvm.MaxMajor.
func Ladder(version string) []string {
	var ladder []string
	for v, ok := firstRung(version), true; ok; v, ok = nextRung(v) {
		ladder = append(ladder, v)
	}
	return ladder
}

func firstRung(version string) string {
	if version == "" {
		return ""
	}
	major, err := strconv.Atoi(strings.SplitN(version, ".", 2)[0])
	if err != nil || major < 9 {
		return "1.8"
	}
	return strconv.Itoa(min(major, jvm.MaxMajor))
}

// nextRung returns the version tried after v. It reports false once the
// unsuffixed name has been tried.
func nextRung(v string) (string, bool) {
	switch v {
	case "":
		return "", false
	case "1.8":
		return "", true
	}
	major, err := strconv.Atoi(v)
	if err != nil || major <= 9 {
		return "1.8", true
	}
	return strconv.Itoa(major - 1), true
}

// Prober finds the artifact for a fingerprint.
type Prober struct {
	Layout Layout
	Tracer Tracer // may be nil
}

// Probe returns the first readable artifact along the ladder of version.
func (p *Prober) Probe(fingerprint, version string) (string, error) {
	for v, ok := firstRung(version), true; ok; v, ok = nextRung(v) {
		path := p.Layout.ArtifactPath(fingerprint, v)
		if p.Tracer != nil {
			p.Tracer.Trace("test", "-r", path)
		}
		if safety.Readable(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: sha256=%s", ErrNotFound, fingerprint)
}
