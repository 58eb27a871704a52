package launcher

import (
	"errors"

	"github.com/BadgerOps/kscript/internal/cache"
	"github.com/BadgerOps/kscript/internal/compiler"
	"github.com/BadgerOps/kscript/internal/config"
	"github.com/BadgerOps/kscript/internal/dispatch"
	"github.com/BadgerOps/kscript/internal/download"
	"github.com/BadgerOps/kscript/internal/metadata"
)

// Class groups launcher errors by how they are handled.
type Class string

const (
	ClassNone          Class = ""
	ClassIntegrity     Class = "integrity"
	ClassConfiguration Class = "configuration"
	ClassNotFound      Class = "not_found"
	ClassInvocation    Class = "invocation"
	ClassTransport     Class = "transport"
	ClassOther         Class = "other"
)

// Classify maps err onto a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var integrityErr *download.IntegrityError
	var depErr *dispatch.DependencyError
	var cfgErr *config.Error
	var loadErr *dispatch.LoadError
	var exitErr *dispatch.ExitError
	var compileErr *compiler.Error
	var httpErr *download.HTTPError

	switch {
	case errors.As(err, &integrityErr), errors.As(err, &loadErr):
		return ClassIntegrity
	case errors.As(err, &depErr), errors.As(err, &cfgErr), errors.Is(err, metadata.ErrMissingMainClass):
		return ClassConfiguration
	case errors.Is(err, cache.ErrNotFound):
		return ClassNotFound
	case errors.As(err, &exitErr), errors.As(err, &compileErr):
		return ClassInvocation
	case errors.As(err, &httpErr):
		return ClassTransport
	default:
		return ClassOther
	}
}

// ExitCode returns the process exit status for the outcome of a launch:
// the script's own status when it ran and failed, 1 for every other error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *dispatch.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
