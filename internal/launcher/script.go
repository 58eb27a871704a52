package launcher

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BadgerOps/kscript/internal/digest"
)

// Script is the script file being launched. It is read once and not
// modified afterwards.
type Script struct {
	Path   string // as given on the command line
	Data   []byte
	SHA256 string // hex
}

// ReadScript loads and hashes the script at path.
func ReadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return &Script{Path: path, Data: data, SHA256: digest.Sum(data).Hex()}, nil
}

// Name returns the file name of the script.
func (s *Script) Name() string {
	return filepath.Base(s.Path)
}

// Dir returns the directory includes are resolved against.
func (s *Script) Dir() string {
	return filepath.Dir(s.Path)
}
