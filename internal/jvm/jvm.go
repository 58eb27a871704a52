// Package jvm locates the Java runtime and reports the version and
// capabilities the launcher keys its caches and tool dependencies on.
package jvm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BadgerOps/kscript/internal/toolchain"
)

// DefaultVersion is assumed when the runtime does not report a usable
// version.
const DefaultVersion = "1.8"

// FFMMinVersion is the first runtime whose foreign memory API the tool uses
// instead of JNA.
const FFMMinVersion = 22

// MaxMajor is the largest major version accepted. Larger values are
// treated as invalid.
const MaxMajor = 999

const versionProperty = "java.vm.specification.version"

// JavaBinary returns the java executable under javaHome, or "java" to be
// resolved through PATH.
func JavaBinary(javaHome string) string {
	if javaHome == "" {
		return "java"
	}
	return filepath.Join(javaHome, "bin", "java")
}

// Locate returns the absolute path of the java executable, resolved
// through PATH and symlinks.
func Locate(java string) (string, error) {
	path, err := exec.LookPath(java)
	if err != nil {
		return "", fmt.Errorf("locating %s: %w", java, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path, nil
}

// DetectVersion asks the runtime for its specification version.
func DetectVersion(ctx context.Context, java string) (string, error) {
	cmd := exec.CommandContext(ctx, java, "-XshowSettings:properties", "-version")
	var out bytes.Buffer
	// The settings dump goes to stderr.
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running %s -version: %w", java, err)
	}
	v, ok := parseSettings(out.Bytes())
	if !ok {
		return "", fmt.Errorf("%s not reported by %s", versionProperty, java)
	}
	return v, nil
}

func parseSettings(out []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if ok && strings.TrimSpace(key) == versionProperty {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// ValidVersion reports whether v is dot separated runs of digits, such as
// "17" or "1.8", with a leading major of at most MaxMajor. Empty segments
// are rejected.
func ValidVersion(v string) bool {
	if v == "" {
		return false
	}
	segs := strings.Split(v, ".")
	for _, seg := range segs {
		if seg == "" {
			return false
		}
		for _, ch := range seg {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	major, err := strconv.Atoi(segs[0])
	return err == nil && major <= MaxMajor
}

// Normalize returns v when valid, otherwise DefaultVersion. The second
// result is false when v was replaced.
func Normalize(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultVersion, true
	}
	if !ValidVersion(v) {
		return DefaultVersion, false
	}
	return v, true
}

// Major returns the integer feature version of a plain integer version such
// as "21". The 1.x scheme and dotted versions report false.
func Major(v string) (int, bool) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Capabilities returns the manifest capabilities for a runtime version.
// jnaRequested forces JNA even where FFM is available.
func Capabilities(version string, jnaRequested bool) toolchain.Capabilities {
	major, ok := Major(version)
	return toolchain.Capabilities{FFM: ok && !jnaRequested && major >= FFMMinVersion}
}
