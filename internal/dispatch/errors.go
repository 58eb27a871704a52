package dispatch

import (
	"errors"
	"fmt"
)

// ErrClassNotFound is wrapped by LoadError when the artifact lacks the
// entry point class.
var ErrClassNotFound = errors.New("class not found")

// DependencyError reports a declared dependency missing from the local
// repository. It is a configuration error: the dependency is never skipped.
type DependencyError struct {
	Dependency string
	Path       string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency not readable: %s", e.Dependency)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// LoadError reports an artifact that cannot be opened, has a damaged entry
// or lacks the entry point class.
type LoadError struct {
	Artifact   string
	EntryPoint string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s from %s: %v", e.EntryPoint, e.Artifact, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ExitError is the script's own non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("script exited with status %d", e.Code)
}
