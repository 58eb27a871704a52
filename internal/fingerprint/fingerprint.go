// Package fingerprint derives the cache key of a compiled script from the
// script hash and the hashes of its includes.
package fingerprint

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/kscript/internal/digest"
)

// Include is one file pulled into the script at compile time.
type Include struct {
	Path string // as declared, relative to the script directory
	Hash string // hex SHA-256 of the file content
}

// Compute returns the fingerprint for a script. A script without includes
// is keyed by its own hash. Otherwise the key is the SHA-256 of one line per
// file, script first, includes in declaration order, so reordering includes
// produces a different key.
func Compute(scriptHash, scriptName string, includes []Include) string {
	if len(includes) == 0 {
		return scriptHash
	}
	var b strings.Builder
	fmt.Fprintf(&b, "sha256=%s %s\n", scriptHash, scriptName)
	for _, inc := range includes {
		fmt.Fprintf(&b, "sha256=%s %s\n", inc.Hash, inc.Path)
	}
	return digest.Sum([]byte(b.String())).Hex()
}

// Resolve hashes the declared include paths relative to scriptDir.
func Resolve(scriptDir string, paths []string) ([]Include, error) {
	includes := make([]Include, 0, len(paths))
	for _, p := range paths {
		full := filepath.FromSlash(p)
		if !filepath.IsAbs(full) {
			full = filepath.Join(scriptDir, full)
		}
		sum, err := digest.File(full)
		if err != nil {
			return nil, fmt.Errorf("hashing include %s: %w", p, err)
		}
		includes = append(includes, Include{Path: p, Hash: sum.Hex()})
	}
	return includes, nil
}
